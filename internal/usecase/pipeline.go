package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

// PipelineDeps wires the batch stages into the orchestration pipeline.
type PipelineDeps struct {
	Watchlist       ports.WatchlistRepository
	Ingestor        *Ingestor
	FanOut          *FanOut
	FreshnessWindow time.Duration
	MaxPerUser      int
	Logger          *slog.Logger
}

// RunReport summarises one batch run.
type RunReport struct {
	RunID  string
	Ingest domain.IngestReport
	Notify domain.NotifyReport
}

// Pipeline implements the scheduled ingest-then-notify workflow.
type Pipeline struct {
	watchlist  ports.WatchlistRepository
	ingestor   *Ingestor
	fanOut     *FanOut
	window     time.Duration
	maxPerUser int
	logger     *slog.Logger
	newRunID   func() string
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	window := deps.FreshnessWindow
	if window <= 0 {
		window = 12 * time.Hour
	}
	maxPerUser := deps.MaxPerUser
	if maxPerUser <= 0 {
		maxPerUser = 5
	}
	return &Pipeline{
		watchlist:  deps.Watchlist,
		ingestor:   deps.Ingestor,
		fanOut:     deps.FanOut,
		window:     window,
		maxPerUser: maxPerUser,
		logger:     logger,
		newRunID:   uuid.NewString,
	}
}

// RunBatch ingests content for every tracked identifier and then notifies
// users. Failing to list identifiers aborts the run before any fan-out.
func (p *Pipeline) RunBatch(ctx context.Context) (RunReport, error) {
	report := RunReport{RunID: p.newRunID()}
	log := p.logger.With("run_id", report.RunID)
	started := time.Now()
	log.Info("batch started")

	identifiers, err := p.watchlist.ListTrackedIdentifiers(ctx)
	if err != nil {
		log.Error("batch aborted", "error", err)
		return report, fmt.Errorf("list tracked identifiers: %w", err)
	}

	if p.ingestor != nil {
		report.Ingest = p.ingestor.Ingest(ctx, identifiers)
	}

	if p.fanOut != nil {
		report.Notify, err = p.fanOut.Notify(ctx, p.window, p.maxPerUser)
		if err != nil {
			log.Error("fan-out aborted", "error", err)
			return report, fmt.Errorf("notify: %w", err)
		}
	}

	log.Info("batch finished",
		"identifiers", len(identifiers),
		"inserted", report.Ingest.Inserted(),
		"ingest_failed", report.Ingest.Failed(),
		"sent", report.Notify.Sent,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return report, nil
}
