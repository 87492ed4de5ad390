package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

func TestMetricsRecordsEngineActivity(t *testing.T) {
	m := NewMetricsService()

	report := &models.SweepReport{Duration: time.Millisecond}
	report.Record([]models.IntegrityIssue{
		{Collection: models.CollectionComments, Reason: models.SweepReasonGhost},
		{Collection: models.CollectionComments, Reason: models.SweepReasonGhost},
	})
	m.ObserveSweep(report)
	m.RecordMalformed("comments")
	m.RecordChangeSignal(models.ChangeSignal{Collection: models.CollectionTasks, Remote: true})
	m.ObserveDerivation(models.RoleStudent, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepRemoved.WithLabelValues("comments", "ghost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.malformedRecords.WithLabelValues("comments")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changeSignals.WithLabelValues("tasks", "remote")))
	derivations, sweeps := m.Counts()
	assert.Equal(t, uint64(1), derivations)
	assert.Equal(t, uint64(1), sweeps)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notify_sweep_removed_total")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordMalformed("comments")
	m.ObserveSweep(&models.SweepReport{})
	m.RecordReadMarks(models.CollectionComments, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
