package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
)

type readStateStore interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	UpdateComments(ctx context.Context, fn func([]models.Comment) ([]models.Comment, bool, error)) error
	UpdateNotifications(ctx context.Context, fn func([]models.Notification) ([]models.Notification, bool, error)) error
}

type viewDeriver interface {
	Derive(ctx context.Context, username string, role models.UserRole) (*models.DerivedView, error)
}

// ReadStateService adds usernames to read sets. Read sets only grow, and a
// write happens only when at least one set actually changed.
type ReadStateService struct {
	repo    readStateStore
	views   viewDeriver
	metrics *MetricsService
	logger  *zap.Logger
}

// NewReadStateService constructs the read-state manager.
func NewReadStateService(repo readStateStore, views viewDeriver, metrics *MetricsService, logger *zap.Logger) *ReadStateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadStateService{repo: repo, views: views, metrics: metrics, logger: logger}
}

// MarkOneRead marks the comment or notification with recordID as read by
// username. Every stored copy carrying the id is marked.
func (s *ReadStateService) MarkOneRead(ctx context.Context, recordID, username string) error {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" || strings.TrimSpace(username) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "record id and username are required")
	}
	ids := map[string]struct{}{recordID: {}}

	found := false
	marked, err := s.markComments(ctx, username, func(c *models.Comment) bool {
		_, ok := ids[c.ID]
		found = found || ok
		return ok
	})
	if err != nil {
		return err
	}
	if found {
		s.logMarked("comment", username, marked)
		return nil
	}

	marked, err = s.markNotifications(ctx, username, func(n *models.Notification) bool {
		_, ok := ids[n.ID]
		found = found || ok
		return ok
	})
	if err != nil {
		return err
	}
	if !found {
		return appErrors.Clone(appErrors.ErrNotFound, "record not found")
	}
	s.logMarked("notification", username, marked)
	return nil
}

// MarkAllReadForTask marks every comment and notification of the task that
// the user can see as read and returns how many records changed.
func (s *ReadStateService) MarkAllReadForTask(ctx context.Context, taskID, username string, role models.UserRole) (int, error) {
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	t := taskOf(snap, taskID)
	if t == nil {
		return 0, appErrors.Clone(appErrors.ErrNotFound, "task not found")
	}
	user := actingUser(snap, username, role)
	idx := newViewIndex(snap)

	comments, err := s.markComments(ctx, username, func(c *models.Comment) bool {
		return c.TaskID == taskID && idx.commentVisible(user, c, t)
	})
	if err != nil {
		return comments, err
	}
	notifications, err := s.markNotifications(ctx, username, func(n *models.Notification) bool {
		return n.TaskID == taskID && idx.notificationAddressed(user, n, t)
	})
	total := comments + notifications
	s.logMarked("task", username, total)
	return total, err
}

// MarkAllRead marks everything in the user's current view as read.
func (s *ReadStateService) MarkAllRead(ctx context.Context, username string, role models.UserRole) (int, error) {
	view, err := s.views.Derive(ctx, username, role)
	if err != nil {
		return 0, err
	}
	commentIDs := make(map[string]struct{}, len(view.UnreadComments))
	for _, c := range view.UnreadComments {
		commentIDs[c.ID] = struct{}{}
	}
	notificationIDs := make(map[string]struct{}, len(view.UnreadNotifications))
	for _, n := range view.UnreadNotifications {
		notificationIDs[n.ID] = struct{}{}
	}

	var comments, notifications int
	if len(commentIDs) > 0 {
		comments, err = s.markComments(ctx, username, func(c *models.Comment) bool {
			_, ok := commentIDs[c.ID]
			return ok
		})
		if err != nil {
			return comments, err
		}
	}
	if len(notificationIDs) > 0 {
		notifications, err = s.markNotifications(ctx, username, func(n *models.Notification) bool {
			_, ok := notificationIDs[n.ID]
			return ok
		})
	}
	total := comments + notifications
	s.logMarked("all", username, total)
	return total, err
}

func (s *ReadStateService) markComments(ctx context.Context, username string, match func(*models.Comment) bool) (int, error) {
	marked := 0
	err := s.repo.UpdateComments(ctx, func(comments []models.Comment) ([]models.Comment, bool, error) {
		marked = 0
		for i := range comments {
			if !match(&comments[i]) {
				continue
			}
			var changed bool
			comments[i].ReadBy, changed = comments[i].ReadBy.Add(username)
			if changed {
				marked++
			}
		}
		return comments, marked > 0, nil
	})
	if err == nil {
		s.metrics.RecordReadMarks(models.CollectionComments, marked)
	}
	return marked, err
}

func (s *ReadStateService) markNotifications(ctx context.Context, username string, match func(*models.Notification) bool) (int, error) {
	marked := 0
	err := s.repo.UpdateNotifications(ctx, func(notifications []models.Notification) ([]models.Notification, bool, error) {
		marked = 0
		for i := range notifications {
			if !match(&notifications[i]) {
				continue
			}
			var changed bool
			notifications[i].ReadBy, changed = notifications[i].ReadBy.Add(username)
			if changed {
				marked++
			}
		}
		return notifications, marked > 0, nil
	})
	if err == nil {
		s.metrics.RecordReadMarks(models.CollectionNotifications, marked)
	}
	return marked, err
}

func (s *ReadStateService) logMarked(scope, username string, n int) {
	if n == 0 {
		return
	}
	s.logger.Debug("records marked read", zap.String("scope", scope), zap.String("username", username), zap.Int("count", n))
}

func taskOf(snap *models.Snapshot, taskID string) *models.Task {
	for i := range snap.Tasks {
		if snap.Tasks[i].ID == taskID {
			return &snap.Tasks[i]
		}
	}
	return nil
}
