package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

// Scheduler fires the ingest-then-notify batch on every driver tick. A tick
// that lands while the previous batch is still running is dropped; the
// cross-process lock in the batch command covers overlap between processes.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
	running  atomic.Bool
}

func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start hands the batch job to the driver. It is a no-op without a driver
// or pipeline so the API can run on its own.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) { s.runBatch(ctx, trigger) })
}

func (s *Scheduler) runBatch(ctx context.Context, trigger time.Time) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous batch still running, tick skipped", "trigger", trigger)
		return
	}
	defer s.running.Store(false)

	report, err := s.pipeline.RunBatch(ctx)
	if err != nil {
		s.logger.Error("scheduled batch failed", "run_id", report.RunID, "trigger", trigger, "error", err)
		return
	}
	s.logger.Info("scheduled batch finished",
		"run_id", report.RunID,
		"trigger", trigger,
		"inserted", report.Ingest.Inserted(),
		"fetch_failures", len(report.Ingest.Failed()),
		"sent", report.Notify.Sent,
		"send_failures", len(report.Notify.Failed),
	)
}

// Stop waits for the driver to drain.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
