package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/apiclient"
)

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	source := &fakeSource{entries: map[string][]domain.ContentEntry{
		"600519": {
			{Title: "年报", Body: "净利润增长", PublishedAt: now},
			{Title: "公告", Body: "分红方案", PublishedAt: now},
		},
	}}
	repo := newMemRepo()
	ingestor := NewIngestor(source, repo, 2, nil)

	first := ingestor.Ingest(context.Background(), []string{"600519"})
	require.Equal(t, 2, first.PerItem["600519"].Inserted)

	second := ingestor.Ingest(context.Background(), []string{"600519"})
	require.Equal(t, 0, second.Inserted())
	require.Equal(t, 2, second.PerItem["600519"].Duplicates)
	require.Equal(t, 2, repo.count())
}

func TestIngestIsolatesFailedIdentifier(t *testing.T) {
	t.Parallel()

	now := time.Now()
	source := &fakeSource{
		entries: map[string][]domain.ContentEntry{
			"A": {{Title: "a", Body: "alpha", PublishedAt: now}},
			"C": {{Title: "c", Body: "gamma", PublishedAt: now}},
		},
		errs: map[string]error{
			"B": &apiclient.CallError{Name: "news.fetch", Attempts: 3, LastCause: &apiclient.UpstreamError{StatusCode: 502}},
		},
	}
	repo := newMemRepo()

	report := NewIngestor(source, repo, 3, nil).Ingest(context.Background(), []string{"A", "B", "C"})

	require.Len(t, report.PerItem, 3)
	require.Equal(t, 1, report.PerItem["A"].Inserted)
	require.Equal(t, 1, report.PerItem["C"].Inserted)
	require.True(t, apiclient.IsUpstream(report.PerItem["B"].Err))
	require.Equal(t, []string{"B"}, report.Failed())
	require.Equal(t, 2, repo.count())
}

func TestIngestFetchesEachIdentifierOnce(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	report := NewIngestor(source, newMemRepo(), 4, nil).Ingest(context.Background(), []string{"A", "A", "", "B"})

	require.Equal(t, int32(2), source.calls.Load())
	require.Len(t, report.PerItem, 2)
}

func TestIngestSkipsEmptyEntriesAndStopsOnSaveError(t *testing.T) {
	t.Parallel()

	source := &fakeSource{entries: map[string][]domain.ContentEntry{
		"A": {{Title: " ", Body: ""}, {Title: "t", Body: "body"}},
	}}
	repo := newMemRepo()
	report := NewIngestor(source, repo, 1, nil).Ingest(context.Background(), []string{"A"})
	require.Equal(t, 1, report.PerItem["A"].Skipped)
	require.Equal(t, 1, report.PerItem["A"].Inserted)

	broken := newMemRepo()
	broken.saveErr = errors.New("disk full")
	report = NewIngestor(source, broken, 1, nil).Ingest(context.Background(), []string{"A"})
	require.ErrorContains(t, report.PerItem["A"].Err, "disk full")
}

func TestFingerprintNormalizesText(t *testing.T) {
	t.Parallel()

	a := Fingerprint(domain.ContentEntry{Body: "营收 １２３ 亿元"})
	b := Fingerprint(domain.ContentEntry{Body: "  营收 123\n\t亿元 "})
	require.NotEmpty(t, a)
	require.Equal(t, a, b)

	byTitle := Fingerprint(domain.ContentEntry{Title: "只有标题"})
	require.Equal(t, Fingerprint(domain.ContentEntry{Body: "只有标题"}), byTitle)

	require.Empty(t, Fingerprint(domain.ContentEntry{Title: "\n", Body: " "}))
	require.NotEqual(t, a, Fingerprint(domain.ContentEntry{Body: "营收 124 亿元"}))
}
