package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

const (
	defaultPreviewRunes = 20
	truncationMarker    = "..."
)

// FanOutConfig shapes the pushed payload.
type FanOutConfig struct {
	TemplateID   string
	Headline     string
	PreviewRunes int
	Workers      int
	Location     *time.Location
}

// FanOut pushes a short digest of fresh content to every user with a
// non-empty watchlist.
type FanOut struct {
	watchlist ports.WatchlistRepository
	content   ports.ContentRepository
	sender    ports.PushSender
	cfg       FanOutConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewFanOut wires repositories and the push sender.
func NewFanOut(watchlist ports.WatchlistRepository, content ports.ContentRepository, sender ports.PushSender, cfg FanOutConfig, logger *slog.Logger) *FanOut {
	if cfg.PreviewRunes <= 0 {
		cfg.PreviewRunes = defaultPreviewRunes
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &FanOut{
		watchlist: watchlist,
		content:   content,
		sender:    sender,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Notify selects at most maxPerUser records published within window for
// each recipient and pushes one message per non-empty selection. Only a
// failure to list recipients is returned; per-user failures land in the
// report.
func (f *FanOut) Notify(ctx context.Context, window time.Duration, maxPerUser int) (domain.NotifyReport, error) {
	report := domain.NotifyReport{Failed: map[int64]error{}}

	recipients, err := f.watchlist.ListRecipients(ctx)
	if err != nil {
		return report, fmt.Errorf("list recipients: %w", err)
	}
	report.Users = len(recipients)

	now := f.now()
	since := now.Add(-window)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(f.cfg.Workers)
	for _, recipient := range recipients {
		g.Go(func() error {
			sent, err := f.notifyOne(ctx, recipient, since, now, maxPerUser)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed[recipient.UserID] = err
				f.logger.Warn("push failed", "user_id", recipient.UserID, "error", err)
			case sent:
				report.Sent++
			default:
				report.Empty++
			}
			return nil
		})
	}
	_ = g.Wait()

	f.logger.Info("fan-out finished",
		"users", report.Users,
		"sent", report.Sent,
		"empty", report.Empty,
		"failed", len(report.Failed))
	return report, nil
}

func (f *FanOut) notifyOne(ctx context.Context, recipient domain.Recipient, since, now time.Time, limit int) (bool, error) {
	if len(recipient.Identifiers) == 0 {
		return false, nil
	}
	records, err := f.content.RecentContent(ctx, recipient.Identifiers, since, limit)
	if err != nil {
		return false, fmt.Errorf("select content: %w", err)
	}
	if len(records) == 0 {
		return false, nil
	}

	msg := f.BuildMessage(domain.NotificationBatch{Recipient: recipient, Records: records}, now)
	if err := f.sender.Send(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}

// BuildMessage composes the templated payload for one batch.
func (f *FanOut) BuildMessage(batch domain.NotificationBatch, now time.Time) domain.PushMessage {
	lines := make([]string, 0, len(batch.Records))
	for _, record := range batch.Records {
		lines = append(lines, "▪️ "+record.Title)
	}

	budget := f.cfg.PreviewRunes
	return domain.PushMessage{
		Recipient:  batch.Recipient.Handle,
		TemplateID: f.cfg.TemplateID,
		Data: map[string]string{
			"thing1": Truncate(f.cfg.Headline, budget),
			"time2":  Truncate(now.In(f.cfg.Location).Format("15:04"), budget),
			"thing3": Truncate(strings.Join(lines, "\n"), budget),
		},
	}
}

// Truncate caps s at max runes; when it has to cut, the last three runes
// are replaced by "...".
func Truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	if max <= len(truncationMarker) {
		return string(runes[:max])
	}
	return string(runes[:max-len(truncationMarker)]) + truncationMarker
}
