package news

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pangshuai227/ai-stocklink/internal/config"
	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/apiclient"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

const (
	sourceName      = "eastmoney"
	publishLayout   = "2006-01-02 15:04:05"
	defaultPageSize = 20
)

// EastMoney fetches per-symbol news from an Eastmoney-style JSON feed.
type EastMoney struct {
	api      *apiclient.Client
	endpoint string
	pageSize int
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.ContentSource = (*EastMoney)(nil)

// NewEastMoney wires the feed endpoint; publish times are read in loc.
func NewEastMoney(cfg config.NewsConfig, loc *time.Location, api *apiclient.Client, logger *slog.Logger) *EastMoney {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if loc == nil {
		loc = time.UTC
	}
	return &EastMoney{
		api:      api,
		endpoint: cfg.Endpoint,
		pageSize: pageSize,
		location: loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Name identifies the source inside the registry.
func (e *EastMoney) Name() string {
	return sourceName
}

type feedResponse struct {
	Data []feedItem `json:"data"`
}

type feedItem struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	PublishTime string `json:"publishTime"`
}

// Fetch returns the latest page of news for one identifier.
func (e *EastMoney) Fetch(ctx context.Context, identifier string) ([]domain.ContentEntry, error) {
	pageURL, err := buildPageURL(e.endpoint, identifier, e.pageSize)
	if err != nil {
		return nil, err
	}

	var feed feedResponse
	_, err = e.api.Call(ctx, apiclient.Request{
		Name:   "news.fetch",
		Method: http.MethodGet,
		URL:    pageURL,
		Header: http.Header{"User-Agent": []string{"stocklink/1.0"}},
		Check: func(resp apiclient.Response) error {
			feed = feedResponse{}
			return resp.DecodeJSON(&feed)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch news for %s: %w", identifier, err)
	}

	entries := make([]domain.ContentEntry, 0, len(feed.Data))
	for _, item := range feed.Data {
		entries = append(entries, e.toEntry(item))
	}
	e.debug("news fetched", "identifier", identifier, "count", len(entries))
	return entries, nil
}

func (e *EastMoney) toEntry(item feedItem) domain.ContentEntry {
	publishedAt := e.now()
	if raw := strings.TrimSpace(item.PublishTime); raw != "" {
		if parsed, err := time.ParseInLocation(publishLayout, raw, e.location); err == nil {
			publishedAt = parsed
		} else {
			e.debug("unparsable publish time", "value", raw)
		}
	}
	return domain.ContentEntry{
		Title:       PlainText(item.Title),
		Body:        PlainText(item.Content),
		PublishedAt: publishedAt,
	}
}

// PlainText flattens an HTML fragment (highlight spans, paragraphs) into a
// single line of text.
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("p, br, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func buildPageURL(base, symbol string, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid news endpoint %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("symbol", symbol)
	query.Set("pageSize", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (e *EastMoney) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
