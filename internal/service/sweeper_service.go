package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

type sweepStore interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	UpdateComments(ctx context.Context, fn func([]models.Comment) ([]models.Comment, bool, error)) error
	UpdateNotifications(ctx context.Context, fn func([]models.Notification) ([]models.Notification, bool, error)) error
	UpdateCompletions(ctx context.Context, fn func([]models.CompletionRecord) ([]models.CompletionRecord, bool, error)) error
}

// SweeperService deletes records that reference missing tasks or can no
// longer matter to anyone. It only ever deletes, so running it twice in a row
// changes nothing the second time.
type SweeperService struct {
	repo    sweepStore
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time

	// one sweep at a time per process
	mu sync.Mutex
}

// NewSweeperService constructs the sweeper.
func NewSweeperService(repo sweepStore, metrics *MetricsService, logger *zap.Logger) *SweeperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweeperService{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// Plan lists what a sweep would delete without touching the store.
func (s *SweeperService) Plan(ctx context.Context) ([]models.IntegrityIssue, error) {
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	idx := newViewIndex(snap)
	issues := planComments(snap.Comments, idx)
	issues = append(issues, planNotifications(snap.Notifications, idx)...)
	issues = append(issues, planCompletions(snap.Completions, idx)...)
	return issues, nil
}

// Sweep runs one pass over comments, notifications and completion records.
// Each collection is rewritten under its own lock with the plan recomputed
// from its freshly read contents, so concurrent appends are never lost. Tasks
// are re-read after the dependent collection: a task is always written before
// records pointing at it, so a record created mid-sweep is never taken for a
// ghost. The pass is not cancellable once started.
func (s *SweeperService) Sweep(ctx context.Context) (*models.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	report := &models.SweepReport{StartedAt: s.now().UTC()}
	started := time.Now()

	var issues []models.IntegrityIssue
	err := s.repo.UpdateComments(ctx, func(comments []models.Comment) ([]models.Comment, bool, error) {
		idx, err := s.freshIndex(ctx)
		if err != nil {
			return nil, false, err
		}
		issues = planComments(comments, idx)
		return dropIndexes(comments, issues), len(issues) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	report.Record(issues)
	s.logIssues(issues)

	issues = nil
	err = s.repo.UpdateNotifications(ctx, func(notifications []models.Notification) ([]models.Notification, bool, error) {
		idx, err := s.freshIndex(ctx)
		if err != nil {
			return nil, false, err
		}
		issues = planNotifications(notifications, idx)
		return dropIndexes(notifications, issues), len(issues) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	report.Record(issues)
	s.logIssues(issues)

	issues = nil
	err = s.repo.UpdateCompletions(ctx, func(records []models.CompletionRecord) ([]models.CompletionRecord, bool, error) {
		idx, err := s.freshIndex(ctx)
		if err != nil {
			return nil, false, err
		}
		issues = planCompletions(records, idx)
		return dropIndexes(records, issues), len(issues) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	report.Record(issues)
	s.logIssues(issues)

	report.Duration = time.Since(started)
	s.metrics.ObserveSweep(report)
	if report.Total > 0 {
		s.logger.Info("integrity sweep removed records", zap.Int("total", report.Total), zap.Duration("duration", report.Duration))
	}
	return report, nil
}

func (s *SweeperService) freshIndex(ctx context.Context) (*viewIndex, error) {
	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return newViewIndex(snap), nil
}

func (s *SweeperService) logIssues(issues []models.IntegrityIssue) {
	for _, issue := range issues {
		if issue.Reason != models.SweepReasonGhost {
			continue
		}
		s.logger.Debug("removing dangling record", zap.Error(danglingError(issue.Collection, issue.RecordID, issue.TaskID)))
	}
}

func planComments(comments []models.Comment, idx *viewIndex) []models.IntegrityIssue {
	last := lastIndexByKey(comments, commentKey)
	var issues []models.IntegrityIssue
	for i := range comments {
		c := &comments[i]
		issue := models.IntegrityIssue{Collection: models.CollectionComments, Index: i, RecordID: c.ID, TaskID: c.TaskID}
		switch {
		case idx.task(c.TaskID) == nil:
			issue.Reason = models.SweepReasonGhost
		case supersededCopy(i, last[commentKey(*c)], c.ReadBy, comments[last[commentKey(*c)]].ReadBy):
			issue.Reason = models.SweepReasonDuplicate
		default:
			continue
		}
		issues = append(issues, issue)
	}
	return issues
}

func planNotifications(notifications []models.Notification, idx *viewIndex) []models.IntegrityIssue {
	last := lastIndexByKey(notifications, notificationKey)
	var issues []models.IntegrityIssue
	for i := range notifications {
		n := &notifications[i]
		issue := models.IntegrityIssue{Collection: models.CollectionNotifications, Index: i, RecordID: n.ID, TaskID: n.TaskID}
		t := idx.task(n.TaskID)
		if t == nil {
			issue.Reason = models.SweepReasonGhost
		} else if reason, ok := idx.notificationSatisfied(n, t); ok {
			issue.Reason = reason
		} else if survivor := last[notificationKey(*n)]; supersededCopy(i, survivor, n.ReadBy, notifications[survivor].ReadBy) {
			issue.Reason = models.SweepReasonDuplicate
		} else {
			continue
		}
		issues = append(issues, issue)
	}
	return issues
}

func planCompletions(records []models.CompletionRecord, idx *viewIndex) []models.IntegrityIssue {
	last := lastIndexByKey(records, completionRecordKey)
	var issues []models.IntegrityIssue
	for i := range records {
		r := &records[i]
		issue := models.IntegrityIssue{Collection: models.CollectionCompletions, Index: i, RecordID: r.StudentUsername, TaskID: r.TaskID}
		switch {
		case idx.task(r.TaskID) == nil:
			issue.Reason = models.SweepReasonGhost
		case last[completionRecordKey(*r)] != i:
			issue.Reason = models.SweepReasonDuplicate
		default:
			continue
		}
		issues = append(issues, issue)
	}
	return issues
}

// supersededCopy reports whether the copy at i can go without losing read
// markers: a later copy exists and already holds all of them.
func supersededCopy(i, survivor int, readBy, survivorReadBy models.ReadSet) bool {
	return survivor != i && survivorReadBy.Covers(readBy)
}

func dropIndexes[T any](items []T, issues []models.IntegrityIssue) []T {
	if len(issues) == 0 {
		return items
	}
	drop := make(map[int]struct{}, len(issues))
	for _, issue := range issues {
		drop[issue.Index] = struct{}{}
	}
	kept := make([]T, 0, len(items)-len(drop))
	for i, item := range items {
		if _, ok := drop[i]; !ok {
			kept = append(kept, item)
		}
	}
	return kept
}

// sortIssues orders issues for reports.
func sortIssues(issues []models.IntegrityIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Collection != issues[j].Collection {
			return issues[i].Collection < issues[j].Collection
		}
		return issues[i].Index < issues[j].Index
	})
}
