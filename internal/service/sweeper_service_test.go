package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
)

func messyState() models.Snapshot {
	finalized := courseTask("F")
	finalized.Status = models.TaskStatusFinalized
	evaluation := courseTask("E")
	evaluation.Kind = models.TaskKindEvaluation
	completedAt := fixedNow

	allRead := notification("n-read", "T", models.NotificationNewTask, "felipin", models.RoleStudent, "jose", "maria")
	allRead.ReadBy = models.ReadSet{"jose", "maria"}
	dupOld := notification("n-dup-old", "T", models.NotificationTeacherComment, "felipin", models.RoleStudent, "jose", "maria")
	dupOld.ReadBy = models.ReadSet{"jose"}
	dupNew := dupOld
	dupNew.ID = "n-dup-new"
	dupNew.ReadBy = models.ReadSet{"jose"}

	return models.Snapshot{
		Tasks: []models.Task{courseTask("T"), finalized, evaluation},
		Users: schoolUsers(),
		Comments: []models.Comment{
			comment("c-ghost", "ghost-1", "jose", "lost", fixedNow),
			comment("c-keep", "T", "jose", "hello", fixedNow, "jose"),
			comment("c-dup-a", "T", "maria", "twice", fixedNow, "maria"),
			comment("c-dup-b", "T", "maria", "twice", fixedNow, "maria", "felipin"),
			submission("s-graded", "T", "maria", floatPtr(8)),
		},
		Notifications: []models.Notification{
			notification("n-ghost", "ghost-1", models.NotificationNewTask, "felipin", models.RoleStudent),
			notification("n-final", "F", models.NotificationNewTask, "felipin", models.RoleStudent, "jose"),
			allRead,
			notification("n-graded", "T", models.NotificationTaskSubmission, "maria", models.RoleTeacher, "felipin"),
			notification("n-open", "T", models.NotificationTaskSubmission, "jose", models.RoleTeacher, "felipin"),
			notification("n-grade", "T", models.NotificationGradeReceived, "felipin", models.RoleStudent, "maria"),
			dupOld,
			dupNew,
			notification("n-done", "E", models.NotificationTaskCompleted, "maria", models.RoleTeacher, "felipin"),
		},
		Completions: []models.CompletionRecord{
			{TaskID: "ghost-1", StudentUsername: "jose", CompletedAt: &completedAt},
			{TaskID: "E", StudentUsername: "maria", CompletedAt: &completedAt},
			{TaskID: "E", StudentUsername: "maria", CompletedAt: &completedAt, Score: floatPtr(9)},
		},
	}
}

func TestSweepRemovesGhostsSatisfiedAndDuplicates(t *testing.T) {
	f := newStoreFixture(t)
	f.seed(t, messyState())
	sweeper := NewSweeperService(f.repo, nil, zap.NewNop())

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	snap := f.snapshot(t)
	assert.Equal(t, []string{"c-keep", "c-dup-b", "s-graded"}, commentIDs(snap.Comments))
	assert.Equal(t, []string{"n-open", "n-grade", "n-dup-new", "n-done"}, notificationIDs(snap.Notifications))
	require.Len(t, snap.Completions, 1)
	require.NotNil(t, snap.Completions[0].Score)
	assert.Equal(t, 9.0, *snap.Completions[0].Score)

	assert.Equal(t, 1, report.Count(models.CollectionComments, models.SweepReasonGhost))
	assert.Equal(t, 1, report.Count(models.CollectionComments, models.SweepReasonDuplicate))
	assert.Equal(t, 1, report.Count(models.CollectionNotifications, models.SweepReasonGhost))
	assert.Equal(t, 1, report.Count(models.CollectionNotifications, models.SweepReasonTerminalTask))
	assert.Equal(t, 1, report.Count(models.CollectionNotifications, models.SweepReasonAllRead))
	assert.Equal(t, 1, report.Count(models.CollectionNotifications, models.SweepReasonGraded))
	assert.Equal(t, 1, report.Count(models.CollectionNotifications, models.SweepReasonDuplicate))
	assert.Equal(t, 1, report.Count(models.CollectionCompletions, models.SweepReasonGhost))
	assert.Equal(t, 1, report.Count(models.CollectionCompletions, models.SweepReasonDuplicate))
	assert.Equal(t, 9, report.Total)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newStoreFixture(t)
	f.seed(t, messyState())
	sweeper := NewSweeperService(f.repo, NewMetricsService(), zap.NewNop())
	ctx := context.Background()

	_, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	first := f.snapshot(t)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Equal(t, first, f.snapshot(t))
}

func TestSweepKeepsDuplicateWithUncoveredReaders(t *testing.T) {
	f := newStoreFixture(t)
	f.seed(t, models.Snapshot{
		Tasks: []models.Task{courseTask("T")},
		Users: schoolUsers(),
		Comments: []models.Comment{
			comment("c1", "T", "jose", "x", fixedNow, "felipin"),
			comment("c2", "T", "jose", "x", fixedNow, "jose"),
		},
	})
	sweeper := NewSweeperService(f.repo, nil, zap.NewNop())

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Len(t, f.snapshot(t).Comments, 2)

	view := DeriveView(f.snapshot(t), &schoolUsers()[0], fixedNow, 0)
	assert.Empty(t, view.UnreadComments, "merged read markers hide the duplicate from felipin")
}

func TestSweepKeepsSameEventForOtherRecipients(t *testing.T) {
	f := newStoreFixture(t)
	f.seed(t, models.Snapshot{
		Tasks: []models.Task{courseTask("T")},
		Users: schoolUsers(),
		Notifications: []models.Notification{
			notification("nA", "T", models.NotificationGradeReceived, "felipin", models.RoleStudent, "jose"),
			notification("nB", "T", models.NotificationGradeReceived, "felipin", models.RoleStudent, "maria"),
		},
	})

	report, err := NewSweeperService(f.repo, nil, zap.NewNop()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Count(models.CollectionNotifications, models.SweepReasonDuplicate))
	assert.Equal(t, []string{"nA", "nB"}, notificationIDs(f.snapshot(t).Notifications))

	jose, err := NewDerivationService(f.repo, zap.NewNop(), WithDerivationClock(clock)).Derive(context.Background(), "jose", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, []string{"nA"}, notificationIDs(jose.UnreadNotifications))
}

func TestSweepGhostScenario(t *testing.T) {
	f := newStoreFixture(t)
	f.seed(t, models.Snapshot{
		Tasks:    []models.Task{courseTask("T")},
		Users:    schoolUsers(),
		Comments: []models.Comment{comment("c-ghost", "ghost-1", "jose", "?", fixedNow)},
	})

	_, err := NewSweeperService(f.repo, nil, zap.NewNop()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.snapshot(t).Comments)
}

func TestPlanDoesNotWrite(t *testing.T) {
	f := newStoreFixture(t)
	f.seed(t, messyState())
	sweeper := NewSweeperService(f.repo, nil, zap.NewNop())

	issues, err := sweeper.Plan(context.Background())
	require.NoError(t, err)
	assert.Len(t, issues, 9)
	assert.Len(t, f.snapshot(t).Comments, 5)
}

func TestSweepStoreUnavailable(t *testing.T) {
	f := newStoreFixture(t)
	f.kv.FailWith = errors.New("down")

	_, err := NewSweeperService(f.repo, nil, zap.NewNop()).Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.IsStoreUnavailable(err))
}

func TestSweepSurvivesCancelledContext(t *testing.T) {
	f := newStoreFixture(t)
	f.seed(t, messyState())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewSweeperService(f.repo, nil, zap.NewNop()).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Total)
}
