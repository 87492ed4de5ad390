package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/dto"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
)

type eventStore interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	UpdateTasks(ctx context.Context, fn func([]models.Task) ([]models.Task, bool, error)) error
	UpdateComments(ctx context.Context, fn func([]models.Comment) ([]models.Comment, bool, error)) error
	UpdateNotifications(ctx context.Context, fn func([]models.Notification) ([]models.Notification, bool, error)) error
	UpdateCompletions(ctx context.Context, fn func([]models.CompletionRecord) ([]models.CompletionRecord, bool, error)) error
}

// EventService applies the domain events that create and change the records
// derivation reads. A task is always written before anything referencing it
// and removed before its dependents.
type EventService struct {
	repo      eventStore
	validator *validator.Validate
	sweeps    SweepTrigger
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewEventService constructs the event service. sweeps may be nil to leave
// sweeping to the interval scheduler.
func NewEventService(repo eventStore, validate *validator.Validate, sweeps SweepTrigger, logger *zap.Logger) *EventService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		repo:      repo,
		validator: validate,
		sweeps:    sweeps,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateTask stores a new task and announces it to its students.
func (s *EventService) CreateTask(ctx context.Context, actor dto.Actor, req dto.CreateTaskRequest) (*models.Task, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers create tasks")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	task := models.Task{
		ID:               s.newID(),
		Title:            strings.TrimSpace(req.Title),
		Course:           strings.TrimSpace(req.Course),
		Subject:          strings.TrimSpace(req.Subject),
		CreatedBy:        actor.Username,
		Scope:            models.TaskScopeCourse,
		AssignedStudents: req.AssignedStudents,
		Kind:             models.TaskKindStandard,
		Status:           models.TaskStatusPending,
		CreatedAt:        s.now().UTC(),
	}
	if req.Scope == string(models.TaskScopeStudents) {
		task.Scope = models.TaskScopeStudents
	} else {
		task.AssignedStudents = nil
	}
	if req.Kind == string(models.TaskKindEvaluation) {
		task.Kind = models.TaskKindEvaluation
	}
	if req.DueDate != nil {
		due := req.DueDate.UTC()
		task.DueDate = &due
	}

	if err := s.repo.UpdateTasks(ctx, func(tasks []models.Task) ([]models.Task, bool, error) {
		return append(tasks, task), true, nil
	}); err != nil {
		return nil, err
	}

	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	recipients := task.Recipients(snap.Users)
	if err := s.notify(ctx, task.ID, models.NotificationNewTask, actor.Username, models.RoleStudent, recipients); err != nil {
		return nil, err
	}
	s.logger.Info("task created", zap.String("task_id", task.ID), zap.String("created_by", actor.Username), zap.Int("recipients", len(recipients)))
	return &task, nil
}

// SubmitTask stores a student's submission, replacing any earlier one.
func (s *EventService) SubmitTask(ctx context.Context, actor dto.Actor, taskID string, req dto.SubmitTaskRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	snap, task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleStudent || !task.AssignedTo(actingUser(snap, actor.Username, actor.Role)) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "task not assigned to user")
	}
	if err := openForWork(task); err != nil {
		return nil, err
	}

	submission := models.Comment{
		ID:             s.newID(),
		TaskID:         task.ID,
		AuthorUsername: actor.Username,
		Body:           req.Body,
		Timestamp:      s.now().UTC(),
		IsSubmission:   true,
		ReadBy:         models.ReadSet{actor.Username},
	}
	replacedGraded := false
	err = s.repo.UpdateComments(ctx, func(comments []models.Comment) ([]models.Comment, bool, error) {
		kept := comments[:0]
		for _, c := range comments {
			if c.IsSubmission && c.TaskID == task.ID && c.AuthorUsername == actor.Username {
				replacedGraded = replacedGraded || c.Graded()
				continue
			}
			kept = append(kept, c)
		}
		return append(kept, submission), true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.advance(ctx, task.ID, models.TaskStatusSubmitted); err != nil {
		return nil, err
	}

	kind := models.NotificationTaskSubmission
	if replacedGraded {
		kind = models.NotificationPendingGrading
	}
	if err := s.notify(ctx, task.ID, kind, actor.Username, models.RoleTeacher, []string{task.CreatedBy}); err != nil {
		return nil, err
	}
	return &submission, nil
}

// GradeSubmission grades a student's latest submission. Once every assigned
// student is graded the task becomes reviewed.
func (s *EventService) GradeSubmission(ctx context.Context, actor dto.Actor, taskID, student string, req dto.GradeSubmissionRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	_, task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleTeacher || task.CreatedBy != actor.Username {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the task owner grades")
	}
	if task.Status == models.TaskStatusFinalized {
		return nil, appErrors.ErrFinalized
	}

	var graded *models.Comment
	err = s.repo.UpdateComments(ctx, func(comments []models.Comment) ([]models.Comment, bool, error) {
		latest := -1
		for i := range comments {
			if comments[i].IsSubmission && comments[i].TaskID == task.ID && comments[i].AuthorUsername == student {
				latest = i
			}
		}
		if latest < 0 {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		grade := *req.Grade
		comments[latest].Grade = &grade
		copied := comments[latest]
		graded = &copied
		return comments, true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notify(ctx, task.ID, models.NotificationGradeReceived, actor.Username, models.RoleStudent, []string{student}); err != nil {
		return nil, err
	}

	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if allGraded(snap, task) {
		if err := s.advance(ctx, task.ID, models.TaskStatusReviewed); err != nil {
			return nil, err
		}
	}
	s.triggerSweep("graded")
	return graded, nil
}

// PostComment adds a discussion comment. Teacher comments are announced to
// the task's students.
func (s *EventService) PostComment(ctx context.Context, actor dto.Actor, taskID string, req dto.PostCommentRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	snap, task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	user := actingUser(snap, actor.Username, actor.Role)
	if user.Role == models.RoleAdmin || !isRecipient(user, task) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of the task")
	}
	if task.Status == models.TaskStatusFinalized {
		return nil, appErrors.ErrFinalized
	}

	comment := models.Comment{
		ID:             s.newID(),
		TaskID:         task.ID,
		AuthorUsername: actor.Username,
		Body:           req.Body,
		Timestamp:      s.now().UTC(),
		ReadBy:         models.ReadSet{actor.Username},
	}
	if err := s.repo.UpdateComments(ctx, func(comments []models.Comment) ([]models.Comment, bool, error) {
		return append(comments, comment), true, nil
	}); err != nil {
		return nil, err
	}

	if user.Role == models.RoleTeacher {
		recipients := task.Recipients(snap.Users)
		if err := s.notify(ctx, task.ID, models.NotificationTeacherComment, actor.Username, models.RoleStudent, recipients); err != nil {
			return nil, err
		}
	}
	return &comment, nil
}

// RecordCompletion stores an evaluation result. Completing twice keeps one
// record and announces only the first completion.
func (s *EventService) RecordCompletion(ctx context.Context, actor dto.Actor, taskID string, req dto.RecordCompletionRequest) (*models.CompletionRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}
	snap, task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Kind != models.TaskKindEvaluation {
		return nil, appErrors.Clone(appErrors.ErrValidation, "task is not an evaluation")
	}
	if actor.Role != models.RoleStudent || !task.AssignedTo(actingUser(snap, actor.Username, actor.Role)) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "task not assigned to user")
	}
	if err := openForWork(task); err != nil {
		return nil, err
	}

	completedAt := s.now().UTC()
	record := models.CompletionRecord{
		TaskID:          task.ID,
		StudentUsername: actor.Username,
		CompletedAt:     &completedAt,
		Score:           req.Score,
		Percentage:      req.Percentage,
	}
	first := false
	err = s.repo.UpdateCompletions(ctx, func(records []models.CompletionRecord) ([]models.CompletionRecord, bool, error) {
		first = !IsEvaluationCompleted(records, task.ID, actor.Username)
		kept := records[:0]
		for _, r := range records {
			if r.TaskID == task.ID && r.StudentUsername == actor.Username {
				if !first {
					record.CompletedAt = r.CompletedAt
				}
				continue
			}
			kept = append(kept, r)
		}
		return append(kept, record), true, nil
	})
	if err != nil {
		return nil, err
	}
	if !first {
		return &record, nil
	}

	if err := s.advance(ctx, task.ID, models.TaskStatusSubmitted); err != nil {
		return nil, err
	}
	if err := s.notify(ctx, task.ID, models.NotificationTaskCompleted, actor.Username, models.RoleTeacher, []string{task.CreatedBy}); err != nil {
		return nil, err
	}
	return &record, nil
}

// FinalizeTask closes the task for good.
func (s *EventService) FinalizeTask(ctx context.Context, actor dto.Actor, taskID string) (*models.Task, error) {
	_, task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ownsOrAdministers(actor, task) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the task owner finalizes")
	}
	if err := s.advance(ctx, task.ID, models.TaskStatusFinalized); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusFinalized
	s.triggerSweep("finalized")
	return task, nil
}

// DeleteTask removes the task and everything referencing it.
func (s *EventService) DeleteTask(ctx context.Context, actor dto.Actor, taskID string) error {
	_, task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ownsOrAdministers(actor, task) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the task owner deletes")
	}

	if err := s.repo.UpdateTasks(ctx, func(tasks []models.Task) ([]models.Task, bool, error) {
		return removeWhere(tasks, func(t models.Task) bool { return t.ID == task.ID })
	}); err != nil {
		return err
	}
	if err := s.repo.UpdateComments(ctx, func(comments []models.Comment) ([]models.Comment, bool, error) {
		return removeWhere(comments, func(c models.Comment) bool { return c.TaskID == task.ID })
	}); err != nil {
		return err
	}
	if err := s.repo.UpdateNotifications(ctx, func(notifications []models.Notification) ([]models.Notification, bool, error) {
		return removeWhere(notifications, func(n models.Notification) bool { return n.TaskID == task.ID })
	}); err != nil {
		return err
	}
	if err := s.repo.UpdateCompletions(ctx, func(records []models.CompletionRecord) ([]models.CompletionRecord, bool, error) {
		return removeWhere(records, func(r models.CompletionRecord) bool { return r.TaskID == task.ID })
	}); err != nil {
		return err
	}

	s.logger.Info("task deleted", zap.String("task_id", task.ID), zap.String("actor", actor.Username))
	s.triggerSweep("task_deleted")
	return nil
}

func (s *EventService) loadTask(ctx context.Context, taskID string) (*models.Snapshot, *models.Task, error) {
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	task := taskOf(snap, taskID)
	if task == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
	}
	return snap, task, nil
}

func (s *EventService) advance(ctx context.Context, taskID string, next models.TaskStatus) error {
	return s.repo.UpdateTasks(ctx, func(tasks []models.Task) ([]models.Task, bool, error) {
		changed := false
		for i := range tasks {
			if tasks[i].ID != taskID {
				continue
			}
			if advanced := tasks[i].Status.Advance(next); advanced != tasks[i].Status {
				tasks[i].Status = advanced
				changed = true
			}
		}
		return tasks, changed, nil
	})
}

func (s *EventService) notify(ctx context.Context, taskID string, kind models.NotificationType, source string, role models.UserRole, targets []string) error {
	n := models.Notification{
		ID:              s.newID(),
		Type:            kind,
		TaskID:          taskID,
		SourceUsername:  source,
		TargetRole:      role,
		TargetUsernames: targets,
		Timestamp:       s.now().UTC(),
		ReadBy:          models.ReadSet{},
	}
	if n.TargetUsernames == nil {
		n.TargetUsernames = []string{}
	}
	return s.repo.UpdateNotifications(ctx, func(notifications []models.Notification) ([]models.Notification, bool, error) {
		return append(notifications, n), true, nil
	})
}

func (s *EventService) triggerSweep(reason string) {
	if s.sweeps != nil {
		s.sweeps.Trigger(reason)
	}
}

// openForWork rejects submissions on tasks that are already reviewed or closed.
func openForWork(t *models.Task) error {
	switch t.Status {
	case models.TaskStatusFinalized:
		return appErrors.ErrFinalized
	case models.TaskStatusReviewed:
		return appErrors.Clone(appErrors.ErrConflict, "task already reviewed")
	}
	return nil
}

// allGraded reports whether every assigned student's work is graded.
func allGraded(snap *models.Snapshot, t *models.Task) bool {
	recipients := t.Recipients(snap.Users)
	if len(recipients) == 0 {
		return false
	}
	idx := newViewIndex(snap)
	for _, student := range recipients {
		if !idx.gradedFor(t, student) {
			return false
		}
	}
	return true
}

func ownsOrAdministers(actor dto.Actor, t *models.Task) bool {
	return actor.Role == models.RoleAdmin || (actor.Role == models.RoleTeacher && t.CreatedBy == actor.Username)
}

func removeWhere[T any](items []T, match func(T) bool) ([]T, bool, error) {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	return kept, len(kept) != len(items), nil
}
