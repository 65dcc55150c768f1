package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/extraction"
	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

const defaultMaxCandidates = 20

// ErrNoCandidates is returned by Preview when nothing usable was extracted.
var ErrNoCandidates = errors.New("no valid identifiers recognized")

// NoCandidatesError carries the rejected lines of an empty extraction.
type NoCandidatesError struct {
	Rejected []domain.RejectedItem
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("%v (%d lines rejected)", ErrNoCandidates, len(e.Rejected))
}

func (e *NoCandidatesError) Is(target error) bool { return target == ErrNoCandidates }

// Extractor produces candidates from an image or text.
type Extractor interface {
	Extract(ctx context.Context, in extraction.Input) (domain.ExtractionResult, error)
}

// Importer drives the extract, stage and confirm flow for watchlists.
type Importer struct {
	extractor     Extractor
	pending       ports.PendingStore
	watchlist     ports.WatchlistRepository
	maxCandidates int
	logger        *slog.Logger
	now           func() time.Time
}

// NewImporter wires the extraction adapter with the staging store and the
// watchlist repository.
func NewImporter(extractor Extractor, pending ports.PendingStore, watchlist ports.WatchlistRepository, maxCandidates int, logger *slog.Logger) *Importer {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Importer{
		extractor:     extractor,
		pending:       pending,
		watchlist:     watchlist,
		maxCandidates: maxCandidates,
		logger:        logger,
		now:           time.Now,
	}
}

// Preview extracts candidates and stages them for userID, replacing any
// earlier pending result. Nothing is staged when no candidate survives.
func (im *Importer) Preview(ctx context.Context, userID int64, in extraction.Input) (domain.PendingExtraction, error) {
	result, err := im.extractor.Extract(ctx, in)
	if err != nil {
		return domain.PendingExtraction{}, err
	}
	if len(result.Candidates) == 0 {
		return domain.PendingExtraction{}, &NoCandidatesError{Rejected: result.Rejected}
	}

	if len(result.Candidates) > im.maxCandidates {
		for _, c := range result.Candidates[im.maxCandidates:] {
			result.Rejected = append(result.Rejected, domain.RejectedItem{
				Line:   c.Name + " " + c.Identifier,
				Reason: domain.ReasonBatchLimit,
			})
		}
		result.Candidates = result.Candidates[:im.maxCandidates]
	}

	pending := domain.PendingExtraction{Result: result, CreatedAt: im.now()}
	im.pending.Stage(userID, pending)
	im.logger.Info("extraction staged",
		"user_id", userID,
		"candidates", len(result.Candidates),
		"rejected", len(result.Rejected))
	return pending, nil
}

// Confirm commits the pending result of userID as tracked items. The
// pending entry is consumed whatever the per-item outcome.
func (im *Importer) Confirm(ctx context.Context, userID int64) (domain.CommitReport, error) {
	pending, ok := im.pending.Take(userID)
	if !ok {
		return domain.CommitReport{}, domain.ErrNothingToConfirm
	}

	report := domain.CommitReport{Added: []domain.Candidate{}, Errors: []domain.CommitFailure{}}
	for _, c := range pending.Result.Candidates {
		err := im.watchlist.AddTrackedItem(ctx, domain.TrackedItem{
			UserID:      userID,
			Identifier:  c.Identifier,
			DisplayName: c.Name,
			AddedAt:     im.now(),
		})
		switch {
		case err == nil:
			report.Added = append(report.Added, c)
		case errors.Is(err, domain.ErrDuplicate):
			report.Errors = append(report.Errors, domain.CommitFailure{Identifier: c.Identifier, Reason: domain.ReasonAlreadyTracked})
		default:
			im.logger.Warn("add tracked item failed", "user_id", userID, "identifier", c.Identifier, "error", err)
			report.Errors = append(report.Errors, domain.CommitFailure{Identifier: c.Identifier, Reason: err.Error()})
		}
	}

	im.logger.Info("extraction confirmed", "user_id", userID, "added", len(report.Added), "errors", len(report.Errors))
	return report, nil
}
