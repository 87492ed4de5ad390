package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-engine/internal/dto"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/pkg/response"
)

type taskEventService interface {
	CreateTask(ctx context.Context, actor dto.Actor, req dto.CreateTaskRequest) (*models.Task, error)
	SubmitTask(ctx context.Context, actor dto.Actor, taskID string, req dto.SubmitTaskRequest) (*models.Comment, error)
	GradeSubmission(ctx context.Context, actor dto.Actor, taskID, student string, req dto.GradeSubmissionRequest) (*models.Comment, error)
	PostComment(ctx context.Context, actor dto.Actor, taskID string, req dto.PostCommentRequest) (*models.Comment, error)
	RecordCompletion(ctx context.Context, actor dto.Actor, taskID string, req dto.RecordCompletionRequest) (*models.CompletionRecord, error)
	FinalizeTask(ctx context.Context, actor dto.Actor, taskID string) (*models.Task, error)
	DeleteTask(ctx context.Context, actor dto.Actor, taskID string) error
}

// TaskEventHandler exposes the task lifecycle events.
type TaskEventHandler struct {
	service taskEventService
}

// NewTaskEventHandler builds a new handler.
func NewTaskEventHandler(service taskEventService) *TaskEventHandler {
	return &TaskEventHandler{service: service}
}

// Create godoc
// @Summary Create a task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param payload body dto.CreateTaskRequest true "Task payload"
// @Success 201 {object} response.Envelope
// @Router /tasks [post]
func (h *TaskEventHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid task payload"))
		return
	}
	task, err := h.service.CreateTask(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Submit godoc
// @Summary Submit a task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.SubmitTaskRequest true "Submission payload"
// @Success 201 {object} response.Envelope
// @Router /tasks/{id}/submissions [post]
func (h *TaskEventHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid submission payload"))
		return
	}
	submission, err := h.service.SubmitTask(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// Grade godoc
// @Summary Grade a student's latest submission
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param student path string true "Student username"
// @Param payload body dto.GradeSubmissionRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id}/submissions/{student}/grade [post]
func (h *TaskEventHandler) Grade(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.GradeSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid grade payload"))
		return
	}
	submission, err := h.service.GradeSubmission(c.Request.Context(), actor, c.Param("id"), c.Param("student"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission)
}

// Comment godoc
// @Summary Post a comment on a task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.PostCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Router /tasks/{id}/comments [post]
func (h *TaskEventHandler) Comment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.PostCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid comment payload"))
		return
	}
	comment, err := h.service.PostComment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// Complete godoc
// @Summary Record an evaluation completion
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.RecordCompletionRequest false "Score payload"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id}/completions [post]
func (h *TaskEventHandler) Complete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RecordCompletionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid completion payload"))
			return
		}
	}
	record, err := h.service.RecordCompletion(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// Finalize godoc
// @Summary Finalize a task
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id}/finalize [post]
func (h *TaskEventHandler) Finalize(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	task, err := h.service.FinalizeTask(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task)
}

// Delete godoc
// @Summary Delete a task and its dependent records
// @Tags Tasks
// @Param id path string true "Task ID"
// @Success 204
// @Router /tasks/{id} [delete]
func (h *TaskEventHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.DeleteTask(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
