package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-engine/internal/dto"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/pkg/response"
)

type viewService interface {
	Derive(ctx context.Context, username string, role models.UserRole) (*models.DerivedView, error)
	Badge(ctx context.Context, username string, role models.UserRole) (models.BadgeCounts, error)
}

type readStateService interface {
	MarkOneRead(ctx context.Context, recordID, username string) error
	MarkAllReadForTask(ctx context.Context, taskID, username string, role models.UserRole) (int, error)
	MarkAllRead(ctx context.Context, username string, role models.UserRole) (int, error)
}

// NotificationHandler serves the acting user's derived view and read state.
type NotificationHandler struct {
	views viewService
	reads readStateService
}

// NewNotificationHandler builds a new handler.
func NewNotificationHandler(views viewService, reads readStateService) *NotificationHandler {
	return &NotificationHandler{views: views, reads: reads}
}

// View godoc
// @Summary Derived view of the acting user
// @Description Unread comments, pending tasks and unread notifications, recomputed from the store.
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /notifications/view [get]
func (h *NotificationHandler) View(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	view, err := h.views.Derive(c.Request.Context(), actor.Username, actor.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, map[string]interface{}{"flagged": view.Flagged})
}

// Badge godoc
// @Summary Badge counts of the acting user
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/badge [get]
func (h *NotificationHandler) Badge(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	counts, err := h.views.Badge(c.Request.Context(), actor.Username, actor.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts)
}

// MarkRead godoc
// @Summary Mark one comment or notification as read
// @Tags Notifications
// @Param id path string true "Record ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.reads.MarkOneRead(c.Request.Context(), c.Param("id"), actor.Username); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark everything in the acting user's view as read
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	marked, err := h.reads.MarkAllRead(c.Request.Context(), actor.Username, actor.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ReadResult{Marked: marked})
}

// MarkTaskRead godoc
// @Summary Mark every visible record of a task as read
// @Tags Notifications
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tasks/{id}/read-all [post]
func (h *NotificationHandler) MarkTaskRead(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	marked, err := h.reads.MarkAllReadForTask(c.Request.Context(), c.Param("id"), actor.Username, actor.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ReadResult{Marked: marked})
}
