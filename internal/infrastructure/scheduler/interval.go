package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

// IntervalScheduler runs a job immediately and then once per interval.
// When a lock file is configured each run first takes a non-blocking file
// lock and is skipped if another process holds it.
type IntervalScheduler struct {
	interval time.Duration
	lock     *flock.Flock
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler; lockPath may be empty.
func NewIntervalScheduler(interval time.Duration, lockPath string, logger *slog.Logger) *IntervalScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &IntervalScheduler{interval: interval, logger: logger}
	if lockPath != "" {
		s.lock = flock.New(lockPath)
	}
	return s
}

// Start begins ticking. Calling Start on a running scheduler is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.run(job, time.Now())
		for {
			select {
			case t := <-ticker.C:
				s.run(job, t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for an in-flight run to finish
// or ctx to expire.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *IntervalScheduler) run(job func(time.Time), trigger time.Time) {
	if s.lock == nil {
		job(trigger)
		return
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		s.logger.Warn("batch lock unavailable, skipping run", "path", s.lock.Path(), "error", err)
		return
	}
	if !locked {
		s.logger.Info("batch already running elsewhere, skipping run", "path", s.lock.Path())
		return
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("release batch lock", "path", s.lock.Path(), "error", err)
		}
	}()
	job(trigger)
}
