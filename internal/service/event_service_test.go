package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/dto"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
)

var (
	felipin = dto.Actor{Username: "felipin", Role: models.RoleTeacher}
	rita    = dto.Actor{Username: "rita", Role: models.RoleTeacher}
	jose    = dto.Actor{Username: "jose", Role: models.RoleStudent}
	maria   = dto.Actor{Username: "maria", Role: models.RoleStudent}
	ana     = dto.Actor{Username: "ana", Role: models.RoleStudent}
	admin   = dto.Actor{Username: "dir", Role: models.RoleAdmin}
)

func newEventFixture(t *testing.T) (*storeFixture, *EventService, *triggerRecorder, *DerivationService) {
	t.Helper()
	f := newStoreFixture(t)
	f.seed(t, models.Snapshot{Users: schoolUsers()})
	trigger := &triggerRecorder{}
	svc := NewEventService(f.repo, nil, trigger, zap.NewNop())
	svc.now = clock
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return f, svc, trigger, newDerivation(f)
}

func createTask(t *testing.T, svc *EventService, kind string) *models.Task {
	t.Helper()
	due := fixedNow.Add(48 * time.Hour)
	task, err := svc.CreateTask(context.Background(), felipin, dto.CreateTaskRequest{
		Title:   "Algebra",
		Course:  "C",
		Subject: "math",
		DueDate: &due,
		Kind:    kind,
	})
	require.NoError(t, err)
	return task
}

func TestCreateTaskAnnouncesToStudents(t *testing.T) {
	f, svc, _, derive := newEventFixture(t)
	task := createTask(t, svc, "")

	snap := f.snapshot(t)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, models.TaskStatusPending, snap.Tasks[0].Status)
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, models.NotificationNewTask, snap.Notifications[0].Type)
	assert.ElementsMatch(t, []string{"jose", "maria"}, snap.Notifications[0].TargetUsernames)

	view, err := derive.Derive(context.Background(), "jose", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, taskIDs(view.PendingTasks))
	assert.Len(t, view.UnreadNotifications, 1)

	view, err = derive.Derive(context.Background(), "ana", models.RoleStudent)
	require.NoError(t, err)
	assert.Zero(t, view.Counts.Total)
}

func TestCreateTaskRejectsStudentsAndInvalidPayload(t *testing.T) {
	_, svc, _, _ := newEventFixture(t)

	_, err := svc.CreateTask(context.Background(), jose, dto.CreateTaskRequest{Title: "x", Course: "C"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.CreateTask(context.Background(), felipin, dto.CreateTaskRequest{Course: "C"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.CreateTask(context.Background(), felipin, dto.CreateTaskRequest{Title: "x", Course: "C", Scope: "students"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "student scope needs a student list")
}

func TestSubmitAndGradeLifecycle(t *testing.T) {
	f, svc, trigger, derive := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "")

	_, err := svc.SubmitTask(ctx, maria, task.ID, dto.SubmitTaskRequest{Body: "v1"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSubmitted, f.snapshot(t).Tasks[0].Status)

	teacher, err := derive.Derive(ctx, "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, taskIDs(teacher.PendingTasks))
	require.Len(t, teacher.UnreadNotifications, 1)
	assert.Equal(t, models.NotificationTaskSubmission, teacher.UnreadNotifications[0].Type)

	student, err := derive.Derive(ctx, "maria", models.RoleStudent)
	require.NoError(t, err)
	assert.Empty(t, student.PendingTasks)

	_, err = svc.GradeSubmission(ctx, felipin, task.ID, "maria", dto.GradeSubmissionRequest{Grade: floatPtr(8.5)})
	require.NoError(t, err)
	assert.Contains(t, trigger.reasons, "graded")
	assert.Equal(t, models.TaskStatusSubmitted, f.snapshot(t).Tasks[0].Status, "jose has not been graded yet")

	teacher, err = derive.Derive(ctx, "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Empty(t, teacher.PendingTasks)
	assert.Empty(t, teacher.UnreadNotifications)

	student, err = derive.Derive(ctx, "maria", models.RoleStudent)
	require.NoError(t, err)
	assert.Empty(t, student.PendingTasks)
	assert.Contains(t, notificationTypes(student), models.NotificationGradeReceived)
}

func notificationTypes(view *models.DerivedView) []models.NotificationType {
	types := make([]models.NotificationType, 0, len(view.UnreadNotifications))
	for _, n := range view.UnreadNotifications {
		types = append(types, n.Type)
	}
	return types
}

func TestResubmissionReplacesGradedWork(t *testing.T) {
	f, svc, _, derive := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "")

	_, err := svc.SubmitTask(ctx, maria, task.ID, dto.SubmitTaskRequest{Body: "v1"})
	require.NoError(t, err)
	_, err = svc.GradeSubmission(ctx, felipin, task.ID, "maria", dto.GradeSubmissionRequest{Grade: floatPtr(4)})
	require.NoError(t, err)
	_, err = svc.SubmitTask(ctx, maria, task.ID, dto.SubmitTaskRequest{Body: "v2"})
	require.NoError(t, err)

	var submissions []models.Comment
	for _, c := range f.snapshot(t).Comments {
		if c.IsSubmission {
			submissions = append(submissions, c)
		}
	}
	require.Len(t, submissions, 1)
	assert.Equal(t, "v2", submissions[0].Body)
	assert.Nil(t, submissions[0].Grade)

	teacher, err := derive.Derive(ctx, "felipin", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, taskIDs(teacher.PendingTasks))
	assert.Contains(t, notificationTypes(teacher), models.NotificationPendingGrading)
}

func TestGradingEveryoneReviewsTask(t *testing.T) {
	f, svc, _, _ := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "")

	for _, student := range []dto.Actor{jose, maria} {
		_, err := svc.SubmitTask(ctx, student, task.ID, dto.SubmitTaskRequest{Body: "done"})
		require.NoError(t, err)
		_, err = svc.GradeSubmission(ctx, felipin, task.ID, student.Username, dto.GradeSubmissionRequest{Grade: floatPtr(10)})
		require.NoError(t, err)
	}
	assert.Equal(t, models.TaskStatusReviewed, f.snapshot(t).Tasks[0].Status)

	_, err := svc.SubmitTask(ctx, jose, task.ID, dto.SubmitTaskRequest{Body: "late"})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestSubmitAndGradeAuthorization(t *testing.T) {
	_, svc, _, _ := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "")

	_, err := svc.SubmitTask(ctx, ana, task.ID, dto.SubmitTaskRequest{Body: "x"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.SubmitTask(ctx, jose, "missing", dto.SubmitTaskRequest{Body: "x"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.GradeSubmission(ctx, rita, task.ID, "jose", dto.GradeSubmissionRequest{Grade: floatPtr(1)})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.GradeSubmission(ctx, felipin, task.ID, "jose", dto.GradeSubmissionRequest{Grade: floatPtr(1)})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestPostCommentRouting(t *testing.T) {
	f, svc, _, derive := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "")

	_, err := svc.PostComment(ctx, jose, task.ID, dto.PostCommentRequest{Body: "question"})
	require.NoError(t, err)
	_, err = svc.PostComment(ctx, felipin, task.ID, dto.PostCommentRequest{Body: "answer"})
	require.NoError(t, err)
	_, err = svc.PostComment(ctx, ana, task.ID, dto.PostCommentRequest{Body: "intruder"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	teacher, err := derive.Derive(ctx, "felipin", models.RoleTeacher)
	require.NoError(t, err)
	require.Len(t, teacher.UnreadComments, 1)
	assert.Equal(t, "question", teacher.UnreadComments[0].Body)

	student, err := derive.Derive(ctx, "maria", models.RoleStudent)
	require.NoError(t, err)
	require.Len(t, student.UnreadComments, 1)
	assert.Equal(t, "question", student.UnreadComments[0].Body)
	assert.ElementsMatch(t, []models.NotificationType{models.NotificationNewTask, models.NotificationTeacherComment}, notificationTypes(student))

	author, err := derive.Derive(ctx, "jose", models.RoleStudent)
	require.NoError(t, err)
	assert.Empty(t, author.UnreadComments, "own comments are already read")
	assert.Len(t, f.snapshot(t).Comments, 2)
}

func TestRecordCompletionIsIdempotent(t *testing.T) {
	f, svc, _, derive := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "evaluation")

	first, err := svc.RecordCompletion(ctx, maria, task.ID, dto.RecordCompletionRequest{Score: floatPtr(6)})
	require.NoError(t, err)
	second, err := svc.RecordCompletion(ctx, maria, task.ID, dto.RecordCompletionRequest{Score: floatPtr(7)})
	require.NoError(t, err)
	require.NotNil(t, second.CompletedAt)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))

	snap := f.snapshot(t)
	require.Len(t, snap.Completions, 1)
	assert.Equal(t, 7.0, *snap.Completions[0].Score)
	completed := 0
	for _, n := range snap.Notifications {
		if n.Type == models.NotificationTaskCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	view, err := derive.Derive(ctx, "maria", models.RoleStudent)
	require.NoError(t, err)
	assert.Empty(t, view.PendingTasks)

	standard := createTask(t, svc, "")
	_, err = svc.RecordCompletion(ctx, maria, standard.ID, dto.RecordCompletionRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestFinalizeHidesTaskNotifications(t *testing.T) {
	_, svc, trigger, derive := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "")

	_, err := svc.FinalizeTask(ctx, rita, task.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	finalized, err := svc.FinalizeTask(ctx, felipin, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFinalized, finalized.Status)
	assert.Contains(t, trigger.reasons, "finalized")

	view, err := derive.Derive(ctx, "jose", models.RoleStudent)
	require.NoError(t, err)
	assert.Zero(t, view.Counts.Total)

	_, err = svc.PostComment(ctx, jose, task.ID, dto.PostCommentRequest{Body: "late"})
	assert.True(t, errors.Is(err, appErrors.ErrFinalized))
}

func TestDeleteTaskCascades(t *testing.T) {
	f, svc, trigger, _ := newEventFixture(t)
	ctx := context.Background()
	task := createTask(t, svc, "evaluation")
	keep := createTask(t, svc, "")

	_, err := svc.PostComment(ctx, jose, task.ID, dto.PostCommentRequest{Body: "hi"})
	require.NoError(t, err)
	_, err = svc.RecordCompletion(ctx, jose, task.ID, dto.RecordCompletionRequest{})
	require.NoError(t, err)

	assert.True(t, errors.Is(svc.DeleteTask(ctx, jose, task.ID), appErrors.ErrForbidden))
	require.NoError(t, svc.DeleteTask(ctx, admin, task.ID))
	assert.Contains(t, trigger.reasons, "task_deleted")

	snap := f.snapshot(t)
	assert.Equal(t, []string{keep.ID}, taskIDs(snap.Tasks))
	assert.Empty(t, snap.Comments)
	assert.Empty(t, snap.Completions)
	for _, n := range snap.Notifications {
		assert.Equal(t, keep.ID, n.TaskID)
	}
}
