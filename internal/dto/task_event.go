package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

// Actor identifies the authenticated user performing an action.
type Actor struct {
	Username string
	Role     models.UserRole
}

// CreateTaskRequest defines payload for creating a task.
type CreateTaskRequest struct {
	Title            string     `json:"title" validate:"required,max=200"`
	Course           string     `json:"course" validate:"required"`
	Subject          string     `json:"subject"`
	Scope            string     `json:"scope" validate:"omitempty,oneof=course students"`
	AssignedStudents []string   `json:"assignedStudents" validate:"required_if=Scope students,dive,required"`
	DueDate          *time.Time `json:"dueDate"`
	Kind             string     `json:"kind" validate:"omitempty,oneof=standard evaluation"`
}

// SubmitTaskRequest carries a student's deliverable.
type SubmitTaskRequest struct {
	Body string `json:"body" validate:"required"`
}

// GradeSubmissionRequest attaches a grade to a student's submission.
type GradeSubmissionRequest struct {
	Grade *float64 `json:"grade" validate:"required,gte=0"`
}

// PostCommentRequest carries a discussion comment.
type PostCommentRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// RecordCompletionRequest reports an auto-scored evaluation result.
type RecordCompletionRequest struct {
	Score      *float64 `json:"score" validate:"omitempty,gte=0"`
	Percentage *float64 `json:"percentage" validate:"omitempty,gte=0,lte=100"`
}

// MigrateRecordRequest carries one legacy record to normalise and store.
type MigrateRecordRequest struct {
	Collection string          `json:"collection" validate:"required,oneof=tasks comments notifications users completionRecords"`
	Record     json.RawMessage `json:"record" validate:"required"`
}

// ReadResult reports how many records a bulk mark-read changed.
type ReadResult struct {
	Marked int `json:"marked"`
}

// MigrateAllResult reports records kept per collection after a rewrite.
type MigrateAllResult struct {
	Collections map[models.Collection]int `json:"collections"`
}
