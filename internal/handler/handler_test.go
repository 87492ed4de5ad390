package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-engine/internal/dto"
	"github.com/noah-isme/sma-notify-engine/internal/middleware"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/internal/service"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
	"github.com/noah-isme/sma-notify-engine/pkg/export"
)

type viewServiceMock struct {
	view     *models.DerivedView
	err      error
	username string
	role     models.UserRole
}

func (m *viewServiceMock) Derive(ctx context.Context, username string, role models.UserRole) (*models.DerivedView, error) {
	m.username, m.role = username, role
	return m.view, m.err
}

func (m *viewServiceMock) Badge(ctx context.Context, username string, role models.UserRole) (models.BadgeCounts, error) {
	m.username, m.role = username, role
	if m.err != nil {
		return models.BadgeCounts{}, m.err
	}
	return m.view.Counts, nil
}

type readStateMock struct {
	marked   int
	err      error
	recordID string
	taskID   string
}

func (m *readStateMock) MarkOneRead(ctx context.Context, recordID, username string) error {
	m.recordID = recordID
	return m.err
}

func (m *readStateMock) MarkAllReadForTask(ctx context.Context, taskID, username string, role models.UserRole) (int, error) {
	m.taskID = taskID
	return m.marked, m.err
}

func (m *readStateMock) MarkAllRead(ctx context.Context, username string, role models.UserRole) (int, error) {
	return m.marked, m.err
}

type taskEventMock struct {
	created  dto.CreateTaskRequest
	graded   string
	deleted  string
	err      error
	complete dto.RecordCompletionRequest
}

func (m *taskEventMock) CreateTask(ctx context.Context, actor dto.Actor, req dto.CreateTaskRequest) (*models.Task, error) {
	m.created = req
	return &models.Task{ID: "T", Title: req.Title, CreatedBy: actor.Username}, m.err
}

func (m *taskEventMock) SubmitTask(ctx context.Context, actor dto.Actor, taskID string, req dto.SubmitTaskRequest) (*models.Comment, error) {
	return &models.Comment{ID: "s", TaskID: taskID, IsSubmission: true}, m.err
}

func (m *taskEventMock) GradeSubmission(ctx context.Context, actor dto.Actor, taskID, student string, req dto.GradeSubmissionRequest) (*models.Comment, error) {
	m.graded = taskID + "/" + student
	return &models.Comment{ID: "s", TaskID: taskID, Grade: req.Grade}, m.err
}

func (m *taskEventMock) PostComment(ctx context.Context, actor dto.Actor, taskID string, req dto.PostCommentRequest) (*models.Comment, error) {
	return &models.Comment{ID: "c", TaskID: taskID, Body: req.Body}, m.err
}

func (m *taskEventMock) RecordCompletion(ctx context.Context, actor dto.Actor, taskID string, req dto.RecordCompletionRequest) (*models.CompletionRecord, error) {
	m.complete = req
	return &models.CompletionRecord{TaskID: taskID, StudentUsername: actor.Username}, m.err
}

func (m *taskEventMock) FinalizeTask(ctx context.Context, actor dto.Actor, taskID string) (*models.Task, error) {
	return &models.Task{ID: taskID, Status: models.TaskStatusFinalized}, m.err
}

func (m *taskEventMock) DeleteTask(ctx context.Context, actor dto.Actor, taskID string) error {
	m.deleted = taskID
	return m.err
}

type maintenanceMock struct {
	migrated models.Collection
	format   export.Format
}

func (m *maintenanceMock) RunIntegritySweep(ctx context.Context) (*models.SweepReport, error) {
	report := &models.SweepReport{}
	report.Record([]models.IntegrityIssue{{Collection: models.CollectionComments, Reason: models.SweepReasonGhost}})
	return report, nil
}

func (m *maintenanceMock) RecomputeBadgeCounts(ctx context.Context, username string) (models.BadgeCounts, error) {
	if username != "jose" {
		return models.BadgeCounts{}, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return models.BadgeCounts{PendingTasks: 2, Total: 2}, nil
}

func (m *maintenanceMock) MigrateLegacyRecord(ctx context.Context, collection models.Collection, raw json.RawMessage) (interface{}, error) {
	m.migrated = collection
	return map[string]string{"id": "c1"}, nil
}

func (m *maintenanceMock) MigrateAll(ctx context.Context) (map[models.Collection]int, error) {
	return map[models.Collection]int{models.CollectionTasks: 3}, nil
}

func (m *maintenanceMock) RenderIntegrityReport(ctx context.Context, format export.Format) (*service.Report, error) {
	m.format = format
	return &service.Report{Filename: "integrity." + string(format), ContentType: format.ContentType(), Body: []byte("collection\n")}, nil
}

func testContext(method, target string, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

var jose = &models.JWTClaims{Username: "jose", Role: models.RoleStudent}

func TestNotificationHandlerView(t *testing.T) {
	views := &viewServiceMock{view: &models.DerivedView{Username: "jose", Counts: models.BadgeCounts{Total: 1}, Flagged: 2}}
	h := NewNotificationHandler(views, &readStateMock{})

	c, w := testContext(http.MethodGet, "/notifications/view", "", jose)
	h.View(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "jose", views.username)
	assert.Equal(t, models.RoleStudent, views.role)

	var body struct {
		Data models.DerivedView     `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Counts.Total)
	assert.Equal(t, float64(2), body.Meta["flagged"])
}

func TestNotificationHandlerRequiresClaims(t *testing.T) {
	h := NewNotificationHandler(&viewServiceMock{}, &readStateMock{})
	c, w := testContext(http.MethodGet, "/notifications/badge", "", nil)
	h.Badge(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNotificationHandlerStoreUnavailable(t *testing.T) {
	views := &viewServiceMock{err: appErrors.StoreUnavailable(errors.New("down"), "read tasks")}
	h := NewNotificationHandler(views, &readStateMock{})
	c, w := testContext(http.MethodGet, "/notifications/badge", "", jose)
	h.Badge(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNotificationHandlerMarkRead(t *testing.T) {
	reads := &readStateMock{marked: 3}
	h := NewNotificationHandler(&viewServiceMock{}, reads)

	c, w := testContext(http.MethodPost, "/notifications/n1/read", "", jose)
	c.Params = gin.Params{{Key: "id", Value: "n1"}}
	h.MarkRead(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "n1", reads.recordID)

	c, w = testContext(http.MethodPost, "/tasks/T/read-all", "", jose)
	c.Params = gin.Params{{Key: "id", Value: "T"}}
	h.MarkTaskRead(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "T", reads.taskID)
	assert.JSONEq(t, `{"data":{"marked":3}}`, w.Body.String())

	reads.err = appErrors.Clone(appErrors.ErrNotFound, "record not found")
	c, w = testContext(http.MethodPost, "/notifications/x/read", "", jose)
	c.Params = gin.Params{{Key: "id", Value: "x"}}
	h.MarkRead(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskEventHandlerCreate(t *testing.T) {
	svc := &taskEventMock{}
	h := NewTaskEventHandler(svc)
	teacher := &models.JWTClaims{Username: "felipin", Role: models.RoleTeacher}

	c, w := testContext(http.MethodPost, "/tasks", `{"title":"Essay","course":"C"}`, teacher)
	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Essay", svc.created.Title)

	c, w = testContext(http.MethodPost, "/tasks", `{"title":`, teacher)
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskEventHandlerRoutesParams(t *testing.T) {
	svc := &taskEventMock{}
	h := NewTaskEventHandler(svc)
	teacher := &models.JWTClaims{Username: "felipin", Role: models.RoleTeacher}

	c, w := testContext(http.MethodPost, "/tasks/T/submissions/jose/grade", `{"grade":7.5}`, teacher)
	c.Params = gin.Params{{Key: "id", Value: "T"}, {Key: "student", Value: "jose"}}
	h.Grade(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "T/jose", svc.graded)

	c, w = testContext(http.MethodPost, "/tasks/E/completions", "", jose)
	c.Params = gin.Params{{Key: "id", Value: "E"}}
	h.Complete(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, svc.complete.Score)

	svc.err = appErrors.Clone(appErrors.ErrForbidden, "only the owner may delete")
	c, w = testContext(http.MethodDelete, "/tasks/T", "", jose)
	c.Params = gin.Params{{Key: "id", Value: "T"}}
	h.Delete(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "T", svc.deleted)
}

func TestMaintenanceHandlerReport(t *testing.T) {
	svc := &maintenanceMock{}
	h := NewMaintenanceHandler(svc, nil)

	c, w := testContext(http.MethodGet, "/maintenance/report?format=csv", "", nil)
	h.Report(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.FormatCSV, svc.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "integrity.csv")

	c, w = testContext(http.MethodGet, "/maintenance/report?format=xml", "", nil)
	h.Report(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMaintenanceHandlerMigrateValidates(t *testing.T) {
	svc := &maintenanceMock{}
	h := NewMaintenanceHandler(svc, nil)

	c, w := testContext(http.MethodPost, "/maintenance/migrate", `{"collection":"grades","record":{"id":"x"}}`, nil)
	h.Migrate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.migrated)

	c, w = testContext(http.MethodPost, "/maintenance/migrate", `{"collection":"comments","record":{"id":"c1"}}`, nil)
	h.Migrate(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.CollectionComments, svc.migrated)
}

func TestMaintenanceHandlerBadgeAndSweep(t *testing.T) {
	h := NewMaintenanceHandler(&maintenanceMock{}, nil)

	c, w := testContext(http.MethodGet, "/maintenance/badges/jose", "", nil)
	c.Params = gin.Params{{Key: "username", Value: "jose"}}
	h.Badge(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = testContext(http.MethodGet, "/maintenance/badges/nobody", "", nil)
	c.Params = gin.Params{{Key: "username", Value: "nobody"}}
	h.Badge(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = testContext(http.MethodPost, "/maintenance/sweep", "", nil)
	h.Sweep(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(service.NewMetricsService(), func(ctx context.Context) error { return errors.New("store down") })
	c, w := testContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h = NewMetricsHandler(service.NewMetricsService(), nil)
	c, w = testContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
