package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-notify-engine/internal/dto"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/internal/service"
	"github.com/noah-isme/sma-notify-engine/pkg/export"
	"github.com/noah-isme/sma-notify-engine/pkg/response"
)

type maintenanceService interface {
	RunIntegritySweep(ctx context.Context) (*models.SweepReport, error)
	RecomputeBadgeCounts(ctx context.Context, username string) (models.BadgeCounts, error)
	MigrateLegacyRecord(ctx context.Context, collection models.Collection, raw json.RawMessage) (interface{}, error)
	MigrateAll(ctx context.Context) (map[models.Collection]int, error)
	RenderIntegrityReport(ctx context.Context, format export.Format) (*service.Report, error)
}

// MaintenanceHandler exposes administrative repairs.
type MaintenanceHandler struct {
	service   maintenanceService
	validator *validator.Validate
}

// NewMaintenanceHandler builds a new handler.
func NewMaintenanceHandler(service maintenanceService, validate *validator.Validate) *MaintenanceHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &MaintenanceHandler{service: service, validator: validate}
}

// Sweep godoc
// @Summary Run the integrity sweep now
// @Tags Maintenance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /maintenance/sweep [post]
func (h *MaintenanceHandler) Sweep(c *gin.Context) {
	report, err := h.service.RunIntegritySweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// Badge godoc
// @Summary Recompute a user's badge counts
// @Tags Maintenance
// @Produce json
// @Param username path string true "Username"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /maintenance/badges/{username} [get]
func (h *MaintenanceHandler) Badge(c *gin.Context) {
	counts, err := h.service.RecomputeBadgeCounts(c.Request.Context(), c.Param("username"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts)
}

// Migrate godoc
// @Summary Normalise and store one legacy record
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param payload body dto.MigrateRecordRequest true "Legacy record"
// @Success 200 {object} response.Envelope
// @Router /maintenance/migrate [post]
func (h *MaintenanceHandler) Migrate(c *gin.Context) {
	var req dto.MigrateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid migration payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, bindError(err, "invalid migration payload"))
		return
	}
	record, err := h.service.MigrateLegacyRecord(c.Request.Context(), models.Collection(req.Collection), req.Record)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// MigrateAll godoc
// @Summary Rewrite every collection in normalised form
// @Tags Maintenance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /maintenance/migrate-all [post]
func (h *MaintenanceHandler) MigrateAll(c *gin.Context) {
	counts, err := h.service.MigrateAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MigrateAllResult{Collections: counts})
}

// Report godoc
// @Summary Dry-run integrity report
// @Tags Maintenance
// @Produce json,text/csv,application/pdf
// @Param format query string false "json, csv or pdf"
// @Success 200 {file} file
// @Router /maintenance/report [get]
func (h *MaintenanceHandler) Report(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, bindError(err, err.Error()))
		return
	}
	report, err := h.service.RenderIntegrityReport(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, report.Filename, report.ContentType, report.Body)
}
