package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/extraction"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/storage"
	"github.com/pangshuai227/ai-stocklink/internal/staging"
	"github.com/pangshuai227/ai-stocklink/internal/usecase"
)

type stubRecognizer struct {
	lines []string
	err   error
}

func (s stubRecognizer) Recognize(context.Context, string) ([]string, error) {
	return s.lines, s.err
}

type stubCompleter struct {
	reply string
}

func (s stubCompleter) Complete(context.Context, string, float64) (string, error) {
	return s.reply, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzeNews(context.Context, string) (domain.Sentiment, error) {
	return domain.Sentiment{Conclusion: domain.ConclusionBullish, Reason: "业绩增长"}, nil
}

const aliceOpenID = "openid-alice"

type fixture struct {
	handler http.Handler
	repo    *storage.Repository
	openid  string
	userID  int64
}

func newFixture(t *testing.T, recognizer stubRecognizer, reply string) fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	userID, err := repo.EnsureUser(ctx, aliceOpenID)
	require.NoError(t, err)

	extractor := extraction.NewExtractor(recognizer, stubCompleter{reply: reply}, nil)
	importer := usecase.NewImporter(extractor, staging.New(time.Hour), repo, 20, nil)
	srv := NewServer(":0", Deps{
		Users:     repo,
		Watchlist: repo,
		Importer:  importer,
		News:      repo,
		Analyzer:  stubAnalyzer{},
		Location:  time.UTC,
	})
	return fixture{handler: srv.Handler(), repo: repo, openid: aliceOpenID, userID: userID}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(userHeader, f.openid)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAddThenConfirmFromImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubRecognizer{lines: []string{"贵州茅台 1234.56 600519", "涨幅 3.2%"}}, "贵州茅台 600519")

	rec := f.do(t, http.MethodPost, "/api/stocks/add_from_image", map[string]string{"image": "data:image/png;base64,AAAA"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var preview domain.ExtractionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.Equal(t, []domain.Candidate{{Name: "贵州茅台", Identifier: "600519"}}, preview.Candidates)
	require.Equal(t, []domain.RejectedItem{{Line: "涨幅 3.2%", Reason: domain.ReasonMalformedLine}}, preview.Rejected)

	rec = f.do(t, http.MethodPost, "/api/stocks/confirm_from_image", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report domain.CommitReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Added, 1)
	require.Empty(t, report.Errors)

	items, err := f.repo.ListTrackedItems(context.Background(), f.userID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "贵州茅台", items[0].DisplayName)

	rec = f.do(t, http.MethodPost, "/api/stocks/confirm_from_image", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "nothing to confirm, re-extract")
}

func TestAddFromImageWithoutCandidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubRecognizer{lines: []string{"贵州茅台 60051"}}, "贵州茅台 60051")
	rec := f.do(t, http.MethodPost, "/api/stocks/add_from_image", map[string]string{"image": "AAAA"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, domain.ReasonInvalidIdentifier, resp.Rejected[0].Reason)

	rec = f.do(t, http.MethodPost, "/api/stocks/confirm_from_image", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddFromImageRecognitionFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubRecognizer{err: errors.New("ocr down")}, "")
	rec := f.do(t, http.MethodPost, "/api/stocks/add_from_image", map[string]string{"image": "AAAA"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRequestsWithoutUserAreRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubRecognizer{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/news", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/stocks/add_from_image", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewsReturnsTrackedContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, stubRecognizer{}, "")
	require.NoError(t, f.repo.AddTrackedItem(ctx, domain.TrackedItem{UserID: f.userID, Identifier: "600519"}))
	published := time.Now().Add(-time.Hour).Truncate(time.Minute)
	require.NoError(t, f.repo.SaveContent(ctx, domain.ContentRecord{Identifier: "600519", Title: "茅台年报", Fingerprint: "fp-1", PublishedAt: published}))
	require.NoError(t, f.repo.SaveContent(ctx, domain.ContentRecord{Identifier: "300750", Title: "宁德时代", Fingerprint: "fp-2", PublishedAt: published}))

	rec := f.do(t, http.MethodGet, "/api/news", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []newsItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Equal(t, []newsItem{{Title: "茅台年报", Time: published.UTC().Format(newsTimestamp), Code: "600519"}}, items)
}

func TestSentiment(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubRecognizer{}, "")
	rec := f.do(t, http.MethodPost, "/api/news/sentiment", map[string]string{"text": "公司净利润同比增长50%"})
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Sentiment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, domain.ConclusionBullish, got.Conclusion)
}

func TestFirstRequestFromNewOpenIDCreatesUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, stubRecognizer{lines: []string{"五粮液 000858"}}, "五粮液 000858")
	f.openid = "openid-bob"

	rec := f.do(t, http.MethodPost, "/api/stocks/add_from_image", map[string]string{"image": "AAAA"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/stocks/confirm_from_image", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bobID, err := f.repo.EnsureUser(ctx, "openid-bob")
	require.NoError(t, err)
	require.NotEqual(t, f.userID, bobID)

	items, err := f.repo.ListTrackedItems(ctx, bobID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "000858", items[0].Identifier)

	aliceItems, err := f.repo.ListTrackedItems(ctx, f.userID)
	require.NoError(t, err)
	require.Empty(t, aliceItems)
}

func TestListAndRemoveStocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, stubRecognizer{}, "")
	added := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, f.repo.AddTrackedItem(ctx, domain.TrackedItem{UserID: f.userID, Identifier: "600519", DisplayName: "贵州茅台", AddedAt: added}))
	require.NoError(t, f.repo.AddTrackedItem(ctx, domain.TrackedItem{UserID: f.userID, Identifier: "000858", DisplayName: "五粮液", AddedAt: added.Add(time.Minute)}))

	rec := f.do(t, http.MethodGet, "/api/stocks/get", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listed []stockItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	require.Equal(t, "600519", listed[0].Code)
	require.Equal(t, "2024-03-01 09:30:00", listed[0].AddedAt)

	rec = f.do(t, http.MethodPost, "/api/stocks/remove", removeRequest{Codes: []string{"６００５１９", "300750"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var removed removeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	require.Equal(t, removeResponse{Removed: []string{"600519"}, TotalRemoved: 1}, removed)

	items, err := f.repo.ListTrackedItems(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "000858", items[0].Identifier)

	rec = f.do(t, http.MethodPost, "/api/stocks/remove", removeRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type staticUsers struct{}

func (staticUsers) EnsureUser(context.Context, string) (int64, error) { return 1, nil }

type blockingImporter struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingImporter) Preview(context.Context, int64, extraction.Input) (domain.PendingExtraction, error) {
	return domain.PendingExtraction{}, nil
}

func (b blockingImporter) Confirm(context.Context, int64) (domain.CommitReport, error) {
	close(b.entered)
	<-b.release
	return domain.CommitReport{}, nil
}

func TestDoneWaitsForInFlightRequest(t *testing.T) {
	t.Parallel()

	importer := blockingImporter{entered: make(chan struct{}), release: make(chan struct{})}
	srv := NewServer("127.0.0.1:0", Deps{Users: staticUsers{}, Importer: importer})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))

	status := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, "http://"+srv.Addr()+"/api/stocks/confirm_from_image", nil)
		req.Header.Set(userHeader, aliceOpenID)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			status <- 0
			return
		}
		_ = resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-importer.entered
	cancel()

	select {
	case <-srv.Done():
		t.Fatal("server reported done while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(importer.release)
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish shutting down")
	}
	require.Equal(t, http.StatusOK, <-status)
}
