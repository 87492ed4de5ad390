package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/internal/normalizer"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
	"github.com/noah-isme/sma-notify-engine/pkg/export"
)

type maintenanceStore interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	UpdateTasks(ctx context.Context, fn func([]models.Task) ([]models.Task, bool, error)) error
	UpdateComments(ctx context.Context, fn func([]models.Comment) ([]models.Comment, bool, error)) error
	UpdateNotifications(ctx context.Context, fn func([]models.Notification) ([]models.Notification, bool, error)) error
	UpdateUsers(ctx context.Context, fn func([]models.User) ([]models.User, bool, error)) error
	UpdateCompletions(ctx context.Context, fn func([]models.CompletionRecord) ([]models.CompletionRecord, bool, error)) error
}

type integritySweeper interface {
	Sweep(ctx context.Context) (*models.SweepReport, error)
	Plan(ctx context.Context) ([]models.IntegrityIssue, error)
}

// Report is a rendered integrity report.
type Report struct {
	Filename    string
	ContentType string
	Body        []byte
}

// MaintenanceService exposes administrative repairs over the shared store.
type MaintenanceService struct {
	repo    maintenanceStore
	sweeper integritySweeper
	grace   time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewMaintenanceService constructs the maintenance service.
func NewMaintenanceService(repo maintenanceStore, sweeper integritySweeper, grace time.Duration, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{repo: repo, sweeper: sweeper, grace: grace, logger: logger, now: time.Now}
}

// RunIntegritySweep runs one sweep immediately.
func (s *MaintenanceService) RunIntegritySweep(ctx context.Context) (*models.SweepReport, error) {
	return s.sweeper.Sweep(ctx)
}

// RecomputeBadgeCounts derives the counts a user would see right now, using
// the role stored for that user.
func (s *MaintenanceService) RecomputeBadgeCounts(ctx context.Context, username string) (models.BadgeCounts, error) {
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return models.BadgeCounts{}, err
	}
	var user *models.User
	for i := range snap.Users {
		if snap.Users[i].Username == username {
			user = &snap.Users[i]
			break
		}
	}
	if user == nil {
		return models.BadgeCounts{}, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return DeriveView(snap, user, s.now(), s.grace).Counts, nil
}

// MigrateLegacyRecord normalises one record of any known shape and upserts
// it by identity. The stored form is returned.
func (s *MaintenanceService) MigrateLegacyRecord(ctx context.Context, collection models.Collection, raw json.RawMessage) (interface{}, error) {
	record, err := normalizer.Record(collection, raw)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	switch r := record.(type) {
	case models.Task:
		err = s.repo.UpdateTasks(ctx, func(items []models.Task) ([]models.Task, bool, error) {
			return upsert(items, r, func(t models.Task) bool { return t.ID == r.ID }), true, nil
		})
	case models.Comment:
		err = s.repo.UpdateComments(ctx, func(items []models.Comment) ([]models.Comment, bool, error) {
			return upsertMerged(items, r, func(c models.Comment) bool { return c.ID == r.ID }, func(stored, incoming models.Comment) models.Comment {
				incoming.ReadBy = stored.ReadBy.Union(incoming.ReadBy)
				record = incoming
				return incoming
			}), true, nil
		})
	case models.Notification:
		err = s.repo.UpdateNotifications(ctx, func(items []models.Notification) ([]models.Notification, bool, error) {
			return upsertMerged(items, r, func(n models.Notification) bool { return n.ID == r.ID }, func(stored, incoming models.Notification) models.Notification {
				incoming.ReadBy = stored.ReadBy.Union(incoming.ReadBy)
				record = incoming
				return incoming
			}), true, nil
		})
	case models.User:
		err = s.repo.UpdateUsers(ctx, func(items []models.User) ([]models.User, bool, error) {
			return upsert(items, r, func(u models.User) bool { return u.Username == r.Username }), true, nil
		})
	case models.CompletionRecord:
		err = s.repo.UpdateCompletions(ctx, func(items []models.CompletionRecord) ([]models.CompletionRecord, bool, error) {
			return upsert(items, r, func(c models.CompletionRecord) bool {
				return c.TaskID == r.TaskID && c.StudentUsername == r.StudentUsername
			}), true, nil
		})
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported collection %q", collection))
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("legacy record migrated", zap.String("collection", string(collection)))
	return record, nil
}

// MigrateAll rewrites every shared collection in normalised form. Malformed
// records are dropped by the rewrite. It returns the records kept per collection.
func (s *MaintenanceService) MigrateAll(ctx context.Context) (map[models.Collection]int, error) {
	counts := make(map[models.Collection]int, len(models.Collections))
	steps := []struct {
		collection models.Collection
		run        func() error
	}{
		{models.CollectionTasks, func() error {
			return s.repo.UpdateTasks(ctx, func(items []models.Task) ([]models.Task, bool, error) {
				counts[models.CollectionTasks] = len(items)
				return items, true, nil
			})
		}},
		{models.CollectionComments, func() error {
			return s.repo.UpdateComments(ctx, func(items []models.Comment) ([]models.Comment, bool, error) {
				counts[models.CollectionComments] = len(items)
				return items, true, nil
			})
		}},
		{models.CollectionNotifications, func() error {
			return s.repo.UpdateNotifications(ctx, func(items []models.Notification) ([]models.Notification, bool, error) {
				counts[models.CollectionNotifications] = len(items)
				return items, true, nil
			})
		}},
		{models.CollectionUsers, func() error {
			return s.repo.UpdateUsers(ctx, func(items []models.User) ([]models.User, bool, error) {
				counts[models.CollectionUsers] = len(items)
				return items, true, nil
			})
		}},
		{models.CollectionCompletions, func() error {
			return s.repo.UpdateCompletions(ctx, func(items []models.CompletionRecord) ([]models.CompletionRecord, bool, error) {
				counts[models.CollectionCompletions] = len(items)
				return items, true, nil
			})
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return nil, err
		}
	}
	s.logger.Info("collections rewritten in normalised form", zap.Any("counts", counts))
	return counts, nil
}

// IntegrityReport lists what the sweeper would delete, without deleting.
func (s *MaintenanceService) IntegrityReport(ctx context.Context) ([]models.IntegrityIssue, error) {
	issues, err := s.sweeper.Plan(ctx)
	if err != nil {
		return nil, err
	}
	sortIssues(issues)
	return issues, nil
}

// RenderIntegrityReport renders the dry-run report in the requested format.
func (s *MaintenanceService) RenderIntegrityReport(ctx context.Context, format export.Format) (*Report, error) {
	issues, err := s.IntegrityReport(ctx)
	if err != nil {
		return nil, err
	}
	generated := s.now().UTC()
	data := export.Dataset{
		Title:   "Integrity report " + generated.Format("2006-01-02 15:04 MST"),
		Headers: []string{"collection", "index", "recordId", "taskId", "reason"},
		Footer:  []string{fmt.Sprintf("records flagged: %d", len(issues))},
	}
	for _, issue := range issues {
		data.AddRow(string(issue.Collection), strconv.Itoa(issue.Index), issue.RecordID, issue.TaskID, string(issue.Reason))
	}

	body, err := export.Render(format, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render integrity report")
	}
	return &Report{
		Filename:    fmt.Sprintf("integrity-%s.%s", generated.Format("20060102-150405"), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func upsert[T any](items []T, record T, same func(T) bool) []T {
	return upsertMerged(items, record, same, nil)
}

// upsertMerged replaces the matching record with merge(stored, record), or
// with record itself when merge is nil.
func upsertMerged[T any](items []T, record T, same func(T) bool, merge func(stored, incoming T) T) []T {
	for i := range items {
		if same(items[i]) {
			if merge != nil {
				record = merge(items[i], record)
			}
			items[i] = record
			return items
		}
	}
	return append(items, record)
}
