package models

import "time"

// SweepReason explains why the sweeper removes a record.
type SweepReason string

const (
	SweepReasonGhost        SweepReason = "ghost"
	SweepReasonTerminalTask SweepReason = "terminal_task"
	SweepReasonAllRead      SweepReason = "all_read"
	SweepReasonGraded       SweepReason = "graded"
	SweepReasonDuplicate    SweepReason = "duplicate"
)

// IntegrityIssue is one record the sweeper would delete.
type IntegrityIssue struct {
	Collection Collection  `json:"collection"`
	Index      int         `json:"index"`
	RecordID   string      `json:"recordId"`
	TaskID     string      `json:"taskId"`
	Reason     SweepReason `json:"reason"`
}

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Removed   map[Collection]map[SweepReason]int `json:"removed"`
	Total     int                                `json:"total"`
	StartedAt time.Time                          `json:"startedAt"`
	Duration  time.Duration                      `json:"duration"`
}

// Record adds the issues to the report tallies.
func (r *SweepReport) Record(issues []IntegrityIssue) {
	if r.Removed == nil {
		r.Removed = make(map[Collection]map[SweepReason]int)
	}
	for _, issue := range issues {
		byReason, ok := r.Removed[issue.Collection]
		if !ok {
			byReason = make(map[SweepReason]int)
			r.Removed[issue.Collection] = byReason
		}
		byReason[issue.Reason]++
		r.Total++
	}
}

// Count returns removals for a collection and reason.
func (r *SweepReport) Count(collection Collection, reason SweepReason) int {
	return r.Removed[collection][reason]
}
