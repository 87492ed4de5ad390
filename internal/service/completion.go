package service

import "github.com/noah-isme/sma-notify-engine/internal/models"

type completionKey struct {
	taskID  string
	student string
}

// CompletionIndex is the only place evaluation completion is decided. A task
// is completed by a student iff a record with matching taskId and
// studentUsername carries a non-empty completion timestamp.
type CompletionIndex struct {
	done map[completionKey]struct{}
}

// NewCompletionIndex indexes completion records.
func NewCompletionIndex(records []models.CompletionRecord) CompletionIndex {
	idx := CompletionIndex{done: make(map[completionKey]struct{}, len(records))}
	for _, r := range records {
		if r.CompletedAt == nil || r.CompletedAt.IsZero() {
			continue
		}
		idx.done[completionKey{taskID: r.TaskID, student: r.StudentUsername}] = struct{}{}
	}
	return idx
}

// Completed reports whether student finished the evaluation task.
func (i CompletionIndex) Completed(taskID, student string) bool {
	_, ok := i.done[completionKey{taskID: taskID, student: student}]
	return ok
}

// IsEvaluationCompleted is the single-call form of the completion check.
func IsEvaluationCompleted(records []models.CompletionRecord, taskID, student string) bool {
	return NewCompletionIndex(records).Completed(taskID, student)
}
