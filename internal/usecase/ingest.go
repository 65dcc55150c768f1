package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

const defaultWorkers = 4

// Ingestor fetches content per identifier and persists what is new.
type Ingestor struct {
	source  ports.ContentSource
	content ports.ContentRepository
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

// NewIngestor wires the content source and repository; workers bounds the
// number of identifiers processed concurrently.
func NewIngestor(source ports.ContentSource, content ports.ContentRepository, workers int, logger *slog.Logger) *Ingestor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Ingestor{
		source:  source,
		content: content,
		workers: workers,
		logger:  logger,
		now:     time.Now,
	}
}

// Ingest processes every distinct identifier once. A failure for one
// identifier is recorded in the report and never stops the others.
func (i *Ingestor) Ingest(ctx context.Context, identifiers []string) domain.IngestReport {
	report := domain.IngestReport{PerItem: make(map[string]domain.ItemResult, len(identifiers))}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(i.workers)
	for _, id := range distinct(identifiers) {
		g.Go(func() error {
			result := i.ingestOne(ctx, id)
			if result.Err != nil {
				i.logger.Warn("ingest failed", "identifier", id, "error", result.Err)
			}
			mu.Lock()
			report.PerItem[id] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	i.logger.Info("ingest finished",
		"identifiers", len(report.PerItem),
		"inserted", report.Inserted(),
		"failed", len(report.Failed()))
	return report
}

func (i *Ingestor) ingestOne(ctx context.Context, identifier string) domain.ItemResult {
	var result domain.ItemResult

	entries, err := i.source.Fetch(ctx, identifier)
	if err != nil {
		result.Err = fmt.Errorf("fetch: %w", err)
		return result
	}

	for _, entry := range entries {
		fp := Fingerprint(entry)
		if fp == "" {
			result.Skipped++
			continue
		}
		err := i.content.SaveContent(ctx, domain.ContentRecord{
			Identifier:  identifier,
			Title:       entry.Title,
			Fingerprint: fp,
			PublishedAt: entry.PublishedAt,
			IngestedAt:  i.now(),
		})
		switch {
		case err == nil:
			result.Inserted++
		case errors.Is(err, domain.ErrDuplicate):
			result.Duplicates++
		default:
			result.Err = fmt.Errorf("save: %w", err)
			return result
		}
	}

	i.logger.Debug("identifier ingested",
		"identifier", identifier,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"skipped", result.Skipped)
	return result
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
