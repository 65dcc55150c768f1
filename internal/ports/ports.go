package ports

import (
	"context"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
)

// Recognizer turns an image into ordered text lines.
type Recognizer interface {
	Recognize(ctx context.Context, imageBase64 string) ([]string, error)
}

// Completer sends a single prompt to a language model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// NewsAnalyzer classifies the market impact of a news text.
type NewsAnalyzer interface {
	AnalyzeNews(ctx context.Context, text string) (domain.Sentiment, error)
}

// ContentSource fetches the latest external content for one identifier.
type ContentSource interface {
	Fetch(ctx context.Context, identifier string) ([]domain.ContentEntry, error)
}

// PushSender delivers a templated message to one recipient.
type PushSender interface {
	Send(ctx context.Context, msg domain.PushMessage) error
}

// ContentRepository persists deduplicated content.
type ContentRepository interface {
	// SaveContent returns domain.ErrDuplicate when the fingerprint exists.
	SaveContent(ctx context.Context, record domain.ContentRecord) error
	RecentContent(ctx context.Context, identifiers []string, since time.Time, limit int) ([]domain.ContentRecord, error)
	RecentForUser(ctx context.Context, userID int64, since time.Time, limit int) ([]domain.ContentRecord, error)
}

// WatchlistRepository owns users' tracked items.
type WatchlistRepository interface {
	// AddTrackedItem returns domain.ErrDuplicate when the pair is already tracked.
	AddTrackedItem(ctx context.Context, item domain.TrackedItem) error
	ListTrackedIdentifiers(ctx context.Context) ([]string, error)
	ListRecipients(ctx context.Context) ([]domain.Recipient, error)
}

// PendingStore holds at most one pending extraction per user.
type PendingStore interface {
	Stage(userID int64, pending domain.PendingExtraction)
	Take(userID int64) (domain.PendingExtraction, bool)
}

// Scheduler controls when the batch job executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
