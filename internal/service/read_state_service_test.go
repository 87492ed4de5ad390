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

func readStateFixture(t *testing.T) (*storeFixture, *ReadStateService, *DerivationService) {
	t.Helper()
	f := newStoreFixture(t)
	other := courseTask("U")
	f.seed(t, models.Snapshot{
		Tasks: []models.Task{courseTask("T"), other},
		Users: schoolUsers(),
		Comments: []models.Comment{
			comment("c1", "T", "jose", "one", fixedNow, "jose"),
			comment("c2", "T", "maria", "two", fixedNow, "maria"),
			comment("c3", "U", "jose", "three", fixedNow, "jose"),
		},
		Notifications: []models.Notification{
			notification("n1", "T", models.NotificationTaskSubmission, "jose", models.RoleTeacher, "felipin"),
			notification("n2", "U", models.NotificationTaskSubmission, "maria", models.RoleTeacher, "felipin"),
		},
	})
	derive := newDerivation(f)
	return f, NewReadStateService(f.repo, derive, NewMetricsService(), zap.NewNop()), derive
}

func TestMarkOneReadIsMonotonicAndQuiet(t *testing.T) {
	f, reads, _ := readStateFixture(t)
	ctx := context.Background()

	require.NoError(t, reads.MarkOneRead(ctx, "n1", "felipin"))
	require.NoError(t, reads.MarkOneRead(ctx, "n1", "felipin"))
	require.NoError(t, reads.MarkOneRead(ctx, "c1", "felipin"))

	snap := f.snapshot(t)
	assert.ElementsMatch(t, []string{"felipin"}, snap.Notifications[0].ReadBy)
	assert.ElementsMatch(t, []string{"jose", "felipin"}, snap.Comments[0].ReadBy)

	_, err := reads.MarkAllReadForTask(ctx, "T", "felipin", models.RoleTeacher)
	require.NoError(t, err)
	snap = f.snapshot(t)
	assert.Contains(t, snap.Comments[0].ReadBy, "jose", "existing readers are never removed")
	assert.Contains(t, snap.Comments[0].ReadBy, "felipin")
}

func TestMarkOneReadUnknownRecord(t *testing.T) {
	_, reads, _ := readStateFixture(t)

	err := reads.MarkOneRead(context.Background(), "missing", "felipin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	err = reads.MarkOneRead(context.Background(), " ", "felipin")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestMarkAllReadForTaskOnlyTouchesThatTask(t *testing.T) {
	_, reads, derive := readStateFixture(t)
	ctx := context.Background()

	marked, err := reads.MarkAllReadForTask(ctx, "T", "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 3, marked)

	view, err := derive.Derive(ctx, "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, commentIDs(view.UnreadComments))
	assert.Equal(t, []string{"n2"}, notificationIDs(view.UnreadNotifications))

	marked, err = reads.MarkAllReadForTask(ctx, "T", "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Zero(t, marked)

	_, err = reads.MarkAllReadForTask(ctx, "nope", "felipin", models.RoleTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestMarkAllReadClearsView(t *testing.T) {
	_, reads, derive := readStateFixture(t)
	ctx := context.Background()

	marked, err := reads.MarkAllRead(ctx, "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 5, marked)

	view, err := derive.Derive(ctx, "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Empty(t, view.UnreadComments)
	assert.Empty(t, view.UnreadNotifications)
}

func TestMarkReadStoreUnavailable(t *testing.T) {
	f, reads, _ := readStateFixture(t)
	f.kv.FailWith = errors.New("down")

	err := reads.MarkOneRead(context.Background(), "c1", "felipin")
	assert.True(t, appErrors.IsStoreUnavailable(err))
}
