package models

import "time"

// CompletionRecord is evidence that a student finished an evaluation task.
type CompletionRecord struct {
	TaskID          string     `json:"taskId"`
	StudentUsername string     `json:"studentUsername"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Score           *float64   `json:"score,omitempty"`
	Percentage      *float64   `json:"percentage,omitempty"`
}
