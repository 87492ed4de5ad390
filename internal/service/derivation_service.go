package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
)

type snapshotLoader interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
}

// SweepTrigger asks for an integrity sweep without waiting for it.
type SweepTrigger interface {
	Trigger(reason string)
}

// DerivationService computes per-user views from the shared collections. It
// keeps no state between calls; every view is recomputed from a fresh read.
type DerivationService struct {
	repo    snapshotLoader
	grace   time.Duration
	sweeps  SweepTrigger
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// DerivationOption customises the derivation service.
type DerivationOption func(*DerivationService)

// WithPendingGraceWindow keeps overdue tasks pending for d past their due date.
func WithPendingGraceWindow(d time.Duration) DerivationOption {
	return func(s *DerivationService) { s.grace = d }
}

// WithDanglingSweepTrigger requests a sweep when derivation meets dangling references.
func WithDanglingSweepTrigger(t SweepTrigger) DerivationOption {
	return func(s *DerivationService) { s.sweeps = t }
}

// WithDerivationMetrics attaches metrics.
func WithDerivationMetrics(m *MetricsService) DerivationOption {
	return func(s *DerivationService) { s.metrics = m }
}

// WithDerivationClock overrides the clock.
func WithDerivationClock(now func() time.Time) DerivationOption {
	return func(s *DerivationService) { s.now = now }
}

// NewDerivationService constructs the derivation engine.
func NewDerivationService(repo snapshotLoader, logger *zap.Logger, opts ...DerivationOption) *DerivationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DerivationService{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Derive returns the acting user's unread comments, pending tasks and unread
// notifications with their counts.
func (s *DerivationService) Derive(ctx context.Context, username string, role models.UserRole) (*models.DerivedView, error) {
	started := time.Now()
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		s.metrics.RecordStoreUnavailable()
		return nil, err
	}
	user := actingUser(snap, username, role)
	view := DeriveView(snap, user, s.now(), s.grace)
	s.metrics.ObserveDerivation(user.Role, time.Since(started))

	if view.Flagged > 0 {
		s.logger.Debug("derivation skipped dangling records", zap.String("username", username), zap.Int("flagged", view.Flagged))
		if s.sweeps != nil {
			s.sweeps.Trigger("dangling_reference")
		}
	}
	return view, nil
}

// Badge returns only the counts of the acting user's view.
func (s *DerivationService) Badge(ctx context.Context, username string, role models.UserRole) (models.BadgeCounts, error) {
	view, err := s.Derive(ctx, username, role)
	if err != nil {
		return models.BadgeCounts{}, err
	}
	return view.Counts, nil
}

// actingUser resolves memberships from the users collection. The acting role
// wins over the stored one; an unknown user keeps no memberships.
func actingUser(snap *models.Snapshot, username string, role models.UserRole) *models.User {
	for i := range snap.Users {
		if snap.Users[i].Username == username {
			u := snap.Users[i]
			if role.Valid() {
				u.Role = role
			}
			return &u
		}
	}
	return &models.User{Username: username, Role: role}
}

// DeriveView is the pure derivation over one snapshot. Records referencing a
// missing task are never shown; they are counted in Flagged instead.
func DeriveView(snap *models.Snapshot, user *models.User, now time.Time, grace time.Duration) *models.DerivedView {
	idx := newViewIndex(snap)
	view := &models.DerivedView{
		Username:            user.Username,
		Role:                user.Role,
		UnreadComments:      []models.Comment{},
		PendingTasks:        []models.Task{},
		UnreadNotifications: []models.Notification{},
		DerivedAt:           now.UTC(),
	}

	for _, c := range DedupComments(snap.Comments) {
		t := idx.task(c.TaskID)
		if t == nil {
			view.Flagged++
			continue
		}
		if c.ReadBy.Contains(user.Username) || !idx.commentVisible(user, &c, t) {
			continue
		}
		view.UnreadComments = append(view.UnreadComments, c)
	}

	for i := range snap.Tasks {
		t := &snap.Tasks[i]
		pending := false
		switch user.Role {
		case models.RoleStudent:
			pending = idx.studentPending(user, t, now, grace)
		case models.RoleTeacher:
			pending = idx.pendingGrading(user, t)
		}
		if pending {
			view.PendingTasks = append(view.PendingTasks, *t)
		}
	}

	for _, n := range DedupNotifications(snap.Notifications) {
		t := idx.task(n.TaskID)
		if t == nil {
			view.Flagged++
			continue
		}
		if n.ReadBy.Contains(user.Username) || !idx.notificationAddressed(user, &n, t) {
			continue
		}
		if _, satisfied := idx.notificationSatisfied(&n, t); satisfied {
			continue
		}
		view.UnreadNotifications = append(view.UnreadNotifications, n)
	}

	sort.SliceStable(view.UnreadComments, func(i, j int) bool {
		return view.UnreadComments[i].Timestamp.After(view.UnreadComments[j].Timestamp)
	})
	sort.SliceStable(view.UnreadNotifications, func(i, j int) bool {
		return view.UnreadNotifications[i].Timestamp.After(view.UnreadNotifications[j].Timestamp)
	})
	sort.SliceStable(view.PendingTasks, func(i, j int) bool {
		return dueBefore(view.PendingTasks[i], view.PendingTasks[j])
	})

	view.Counts = models.BadgeCounts{
		UnreadComments:      len(view.UnreadComments),
		PendingTasks:        len(view.PendingTasks),
		UnreadNotifications: len(view.UnreadNotifications),
	}
	view.Counts.Total = view.Counts.UnreadComments + view.Counts.PendingTasks + view.Counts.UnreadNotifications
	return view
}

// dueBefore orders by due date with undated tasks last.
func dueBefore(a, b models.Task) bool {
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return a.CreatedAt.Before(b.CreatedAt)
	case a.DueDate == nil:
		return false
	case b.DueDate == nil:
		return true
	default:
		return a.DueDate.Before(*b.DueDate)
	}
}

// danglingError describes a record pointing at a missing task.
func danglingError(collection models.Collection, recordID, taskID string) error {
	return &appErrors.DanglingReferenceError{Collection: string(collection), RecordID: recordID, TaskID: taskID}
}
