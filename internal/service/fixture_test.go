package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/internal/repository"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type triggerRecorder struct {
	reasons []string
}

func (r *triggerRecorder) Trigger(reason string) {
	r.reasons = append(r.reasons, reason)
}

type storeFixture struct {
	repo *repository.CollectionRepository
	kv   *repository.MemoryKV
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	kv := repository.NewMemoryKV()
	return &storeFixture{
		repo: repository.NewCollectionRepository(kv, repository.Keyspace{}, zap.NewNop()),
		kv:   kv,
	}
}

func (f *storeFixture) seed(t *testing.T, snap models.Snapshot) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.SaveTasks(ctx, snap.Tasks))
	require.NoError(t, f.repo.SaveComments(ctx, snap.Comments))
	require.NoError(t, f.repo.SaveNotifications(ctx, snap.Notifications))
	require.NoError(t, f.repo.SaveUsers(ctx, snap.Users))
	require.NoError(t, f.repo.SaveCompletions(ctx, snap.Completions))
}

func (f *storeFixture) snapshot(t *testing.T) *models.Snapshot {
	t.Helper()
	snap, err := f.repo.LoadSnapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func schoolUsers() []models.User {
	return []models.User{
		{Username: "felipin", Role: models.RoleTeacher, Teaching: []models.TeachingAssignment{{Course: "C", Subject: "math"}}},
		{Username: "rita", Role: models.RoleTeacher, Teaching: []models.TeachingAssignment{{Course: "D", Subject: "math"}}},
		{Username: "jose", Role: models.RoleStudent, Courses: []string{"C"}},
		{Username: "maria", Role: models.RoleStudent, Courses: []string{"C"}},
		{Username: "ana", Role: models.RoleStudent, Courses: []string{"D"}},
		{Username: "dir", Role: models.RoleAdmin},
	}
}

func courseTask(id string) models.Task {
	due := fixedNow.Add(72 * time.Hour)
	return models.Task{
		ID:        id,
		Title:     "Exercises " + id,
		Course:    "C",
		Subject:   "math",
		CreatedBy: "felipin",
		Scope:     models.TaskScopeCourse,
		DueDate:   &due,
		Kind:      models.TaskKindStandard,
		Status:    models.TaskStatusPending,
		CreatedAt: fixedNow.Add(-24 * time.Hour),
	}
}

func comment(id, taskID, author, body string, at time.Time, readBy ...string) models.Comment {
	return models.Comment{
		ID:             id,
		TaskID:         taskID,
		AuthorUsername: author,
		Body:           body,
		Timestamp:      at,
		ReadBy:         models.ReadSet(append([]string{}, readBy...)),
	}
}

func submission(id, taskID, student string, grade *float64) models.Comment {
	c := comment(id, taskID, student, "my work", fixedNow.Add(-time.Hour), student)
	c.IsSubmission = true
	c.Grade = grade
	return c
}

func notification(id, taskID string, kind models.NotificationType, source string, role models.UserRole, targets ...string) models.Notification {
	return models.Notification{
		ID:              id,
		Type:            kind,
		TaskID:          taskID,
		SourceUsername:  source,
		TargetRole:      role,
		TargetUsernames: append([]string{}, targets...),
		Timestamp:       fixedNow.Add(-2 * time.Hour),
		ReadBy:          models.ReadSet{},
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

func clock() time.Time {
	return fixedNow
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	return out
}

func commentIDs(comments []models.Comment) []string {
	return ids(comments, func(c models.Comment) string { return c.ID })
}

func notificationIDs(notifications []models.Notification) []string {
	return ids(notifications, func(n models.Notification) string { return n.ID })
}

func taskIDs(tasks []models.Task) []string {
	return ids(tasks, func(t models.Task) string { return t.ID })
}
