package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/pkg/jobs"
)

const sweepJobType = "integrity_sweep"

type sweepRunner interface {
	Sweep(ctx context.Context) (*models.SweepReport, error)
}

// SweepScheduler runs the sweeper on an interval and on demand. Triggers that
// arrive while a sweep is already queued are folded into it.
type SweepScheduler struct {
	sweeper  sweepRunner
	queue    *jobs.Queue
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweepScheduler builds a scheduler. A zero interval disables the ticker.
func NewSweepScheduler(sweeper sweepRunner, interval time.Duration, logger *zap.Logger) *SweepScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SweepScheduler{sweeper: sweeper, interval: interval, logger: logger}
	s.queue = jobs.NewQueue("sweeper", s.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		MaxRetries: -1,
		Logger:     logger,
	})
	return s
}

// Start launches the worker and the interval ticker.
func (s *SweepScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.queue.Start(ctx)

	go func() {
		defer close(s.done)
		if s.interval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Trigger("interval")
			}
		}
	}()
}

// Stop halts the ticker and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.queue.Stop()
}

// Trigger requests a sweep without waiting for it.
func (s *SweepScheduler) Trigger(reason string) {
	job := jobs.Job{ID: uuid.NewString(), Type: sweepJobType, Payload: reason}
	if !s.queue.TryEnqueue(job) {
		s.logger.Debug("sweep already pending", zap.String("reason", reason))
	}
}

func (s *SweepScheduler) handle(ctx context.Context, job jobs.Job) error {
	reason, _ := job.Payload.(string)
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Warn("integrity sweep failed", zap.String("reason", reason), zap.Error(err))
		return err
	}
	s.logger.Debug("integrity sweep finished", zap.String("reason", reason), zap.Int("removed", report.Total))
	return nil
}
