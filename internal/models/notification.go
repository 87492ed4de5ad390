package models

import "time"

// NotificationType enumerates domain events announced to users.
type NotificationType string

const (
	NotificationNewTask        NotificationType = "new_task"
	NotificationTaskSubmission NotificationType = "task_submission"
	NotificationTeacherComment NotificationType = "teacher_comment"
	NotificationPendingGrading NotificationType = "pending_grading"
	NotificationTaskCompleted  NotificationType = "task_completed"
	NotificationGradeReceived  NotificationType = "grade_received"
)

// Notification announces a domain event to a set of recipients.
type Notification struct {
	ID              string           `json:"id"`
	Type            NotificationType `json:"type"`
	TaskID          string           `json:"taskId"`
	SourceUsername  string           `json:"sourceUsername"`
	TargetRole      UserRole         `json:"targetRole"`
	TargetUsernames []string         `json:"targetUsernames"`
	Timestamp       time.Time        `json:"timestamp"`
	ReadBy          ReadSet          `json:"readBy"`
}

// Targets reports whether username is an explicit recipient.
func (n Notification) Targets(username string) bool {
	for _, u := range n.TargetUsernames {
		if u == username {
			return true
		}
	}
	return false
}

// ReadByAllTargets reports whether every explicit target has read it.
func (n Notification) ReadByAllTargets() bool {
	return len(n.TargetUsernames) > 0 && n.ReadBy.Covers(n.TargetUsernames)
}
