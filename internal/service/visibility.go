package service

import (
	"time"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

// notificationTypesByRole limits which events each role is shown. Admins see
// every type.
var notificationTypesByRole = map[models.UserRole]map[models.NotificationType]struct{}{
	models.RoleStudent: {
		models.NotificationNewTask:        {},
		models.NotificationTeacherComment: {},
		models.NotificationGradeReceived:  {},
	},
	models.RoleTeacher: {
		models.NotificationTaskSubmission: {},
		models.NotificationPendingGrading: {},
		models.NotificationTaskCompleted:  {},
	},
}

// mootOnTerminal lists the types that stop mattering once a task is reviewed
// or finalized. grade_received stays until read.
var mootOnTerminal = map[models.NotificationType]struct{}{
	models.NotificationNewTask:        {},
	models.NotificationTaskSubmission: {},
	models.NotificationTeacherComment: {},
	models.NotificationPendingGrading: {},
	models.NotificationTaskCompleted:  {},
}

type submissionKey struct {
	taskID  string
	student string
}

// viewIndex holds the lookups every derivation and sweep predicate needs, built
// once per snapshot.
type viewIndex struct {
	tasks       map[string]*models.Task
	users       map[string]*models.User
	completions CompletionIndex
	// latest submission per (task, student), by position in the collection
	submissions map[submissionKey]*models.Comment
	// students with a submission per task
	submitters map[string][]string
}

func newViewIndex(snap *models.Snapshot) *viewIndex {
	idx := &viewIndex{
		tasks:       snap.TaskByID(),
		users:       snap.UserByName(),
		completions: NewCompletionIndex(snap.Completions),
		submissions: make(map[submissionKey]*models.Comment),
		submitters:  make(map[string][]string),
	}
	for i := range snap.Comments {
		c := &snap.Comments[i]
		if !c.IsSubmission {
			continue
		}
		key := submissionKey{taskID: c.TaskID, student: c.AuthorUsername}
		if _, seen := idx.submissions[key]; !seen {
			idx.submitters[c.TaskID] = append(idx.submitters[c.TaskID], c.AuthorUsername)
		}
		idx.submissions[key] = c
	}
	return idx
}

func (x *viewIndex) task(id string) *models.Task {
	return x.tasks[id]
}

func (x *viewIndex) hasSubmission(taskID, student string) bool {
	_, ok := x.submissions[submissionKey{taskID: taskID, student: student}]
	return ok
}

// gradedFor reports whether the student's work on the task needs no grading:
// the latest submission carries a grade, or the evaluation was auto-scored.
func (x *viewIndex) gradedFor(t *models.Task, student string) bool {
	if t.Kind == models.TaskKindEvaluation && x.completions.Completed(t.ID, student) {
		return true
	}
	sub, ok := x.submissions[submissionKey{taskID: t.ID, student: student}]
	return ok && sub.Graded()
}

// supervises reports whether a teacher is responsible for the task.
func supervises(u *models.User, t *models.Task) bool {
	if u.Role != models.RoleTeacher {
		return false
	}
	return t.CreatedBy == u.Username || u.Teaches(t.Course, t.Subject)
}

// isRecipient reports whether the task concerns the user in their role.
func isRecipient(u *models.User, t *models.Task) bool {
	switch u.Role {
	case models.RoleStudent:
		return t.AssignedTo(u)
	case models.RoleTeacher:
		return supervises(u, t)
	case models.RoleAdmin:
		return true
	default:
		return false
	}
}

// commentVisible reports whether c belongs in u's comment bucket, read state
// aside. Only student-authored discussion comments are counted: teachers see
// those of students on tasks they supervise, students see their peers' on
// tasks both are assigned. Teacher replies reach students as notifications.
func (x *viewIndex) commentVisible(u *models.User, c *models.Comment, t *models.Task) bool {
	if c.IsSubmission || c.AuthorUsername == u.Username {
		return false
	}
	author := x.users[c.AuthorUsername]
	if author == nil || author.Role != models.RoleStudent || !t.AssignedTo(author) {
		return false
	}
	switch u.Role {
	case models.RoleTeacher:
		return supervises(u, t)
	case models.RoleStudent:
		return t.AssignedTo(u)
	default:
		return false
	}
}

// notificationAddressed reports whether n is meant for u, read state aside.
func (x *viewIndex) notificationAddressed(u *models.User, n *models.Notification, t *models.Task) bool {
	if n.SourceUsername != "" && n.SourceUsername == u.Username {
		return false
	}
	if allowed, limited := notificationTypesByRole[u.Role]; limited {
		if _, ok := allowed[n.Type]; !ok {
			return false
		}
	}
	if u.Role == models.RoleTeacher {
		// events raised by other staff never belong to a teacher's queue
		if source := x.users[n.SourceUsername]; source != nil && source.Role != models.RoleStudent {
			return false
		}
	}
	if len(n.TargetUsernames) > 0 {
		return n.Targets(u.Username)
	}
	return n.TargetRole == u.Role && isRecipient(u, t)
}

// notificationSatisfied reports why n no longer matters to anyone. Derivation
// hides these and the sweeper deletes them, so both share this predicate.
func (x *viewIndex) notificationSatisfied(n *models.Notification, t *models.Task) (models.SweepReason, bool) {
	if _, moot := mootOnTerminal[n.Type]; moot && t.Status.Terminal() {
		return models.SweepReasonTerminalTask, true
	}
	if n.ReadByAllTargets() {
		return models.SweepReasonAllRead, true
	}
	switch n.Type {
	case models.NotificationTaskSubmission, models.NotificationPendingGrading:
		if n.SourceUsername != "" && x.gradedFor(t, n.SourceUsername) {
			return models.SweepReasonGraded, true
		}
	}
	return "", false
}

// studentPending reports whether the student still owes work on the task.
func (x *viewIndex) studentPending(u *models.User, t *models.Task, now time.Time, grace time.Duration) bool {
	if !t.AssignedTo(u) || t.Status.Terminal() {
		return false
	}
	if t.DueDate != nil && !now.Before(t.DueDate.Add(grace)) {
		return false
	}
	if x.hasSubmission(t.ID, u.Username) {
		return false
	}
	if t.Kind == models.TaskKindEvaluation && x.completions.Completed(t.ID, u.Username) {
		return false
	}
	return true
}

// pendingGrading reports whether the owning teacher has ungraded work on t.
func (x *viewIndex) pendingGrading(u *models.User, t *models.Task) bool {
	if u.Role != models.RoleTeacher || t.CreatedBy != u.Username || t.Status.Terminal() {
		return false
	}
	for _, student := range x.submitters[t.ID] {
		s := x.users[student]
		if s == nil || !t.AssignedTo(s) {
			continue
		}
		if !x.gradedFor(t, student) {
			return true
		}
	}
	return false
}
