package models

import "time"

// TaskKind distinguishes regular deliverables from auto-scored evaluations.
type TaskKind string

const (
	TaskKindStandard   TaskKind = "standard"
	TaskKindEvaluation TaskKind = "evaluation"
)

// TaskScope defines how a task selects its students.
type TaskScope string

const (
	TaskScopeCourse   TaskScope = "course"
	TaskScopeStudents TaskScope = "students"
)

// TaskStatus is the task lifecycle. Transitions only move forward.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusReviewed  TaskStatus = "reviewed"
	TaskStatusFinalized TaskStatus = "finalized"
)

var taskStatusRank = map[TaskStatus]int{
	TaskStatusPending:   0,
	TaskStatusSubmitted: 1,
	TaskStatusReviewed:  2,
	TaskStatusFinalized: 3,
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	_, ok := taskStatusRank[s]
	return ok
}

// Terminal reports whether no further derivation-relevant events are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusReviewed || s == TaskStatusFinalized
}

// Advance returns next when it is ahead of s, otherwise s.
func (s TaskStatus) Advance(next TaskStatus) TaskStatus {
	if taskStatusRank[next] > taskStatusRank[s] {
		return next
	}
	return s
}

// Task is an assignment created by a teacher.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Course           string     `json:"course"`
	Subject          string     `json:"subject"`
	CreatedBy        string     `json:"createdBy"`
	Scope            TaskScope  `json:"scope"`
	AssignedStudents []string   `json:"assignedStudents,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	Kind             TaskKind   `json:"kind"`
	Status           TaskStatus `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// AssignedTo reports whether the student is a recipient of the task. Course
// scoped tasks resolve through the student's course memberships.
func (t Task) AssignedTo(student *User) bool {
	if student == nil || student.Role != RoleStudent {
		return false
	}
	if t.Scope == TaskScopeStudents {
		for _, username := range t.AssignedStudents {
			if username == student.Username {
				return true
			}
		}
		return false
	}
	return student.MemberOf(t.Course)
}

// Recipients lists the students the task is assigned to.
func (t Task) Recipients(users []User) []string {
	var result []string
	for i := range users {
		if t.AssignedTo(&users[i]) {
			result = append(result, users[i].Username)
		}
	}
	return result
}
