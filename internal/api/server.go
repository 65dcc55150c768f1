// Package api exposes the watchlist import flow and the news feed over a
// small JSON HTTP surface. The fronting gateway authenticates the caller and
// puts their WeChat openid in X-User-ID; the first request from a new openid
// creates the user row.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/extraction"
	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
	"github.com/pangshuai227/ai-stocklink/internal/usecase"
)

const (
	userHeader    = "X-User-ID"
	maxBodyBytes  = 10 << 20
	newsWindow    = 24 * time.Hour
	newsLimit     = 20
	newsTimestamp = "2006-01-02 15:04"
	addedAtFormat = "2006-01-02 15:04:05"
	maxRemove     = 50
	maxOpenIDLen  = 128
)

// Importer is the watchlist import flow.
type Importer interface {
	Preview(ctx context.Context, userID int64, in extraction.Input) (domain.PendingExtraction, error)
	Confirm(ctx context.Context, userID int64) (domain.CommitReport, error)
}

// NewsReader returns a user's recent content.
type NewsReader interface {
	RecentForUser(ctx context.Context, userID int64, since time.Time, limit int) ([]domain.ContentRecord, error)
}

// Users maps a gateway identity to the internal user id.
type Users interface {
	EnsureUser(ctx context.Context, openid string) (int64, error)
}

// Watchlist reads and trims a user's tracked identifiers.
type Watchlist interface {
	ListTrackedItems(ctx context.Context, userID int64) ([]domain.TrackedItem, error)
	RemoveTrackedItem(ctx context.Context, userID int64, identifier string) (bool, error)
}

// Deps wires the handlers.
type Deps struct {
	Users     Users
	Watchlist Watchlist
	Importer  Importer
	News      NewsReader
	Analyzer  ports.NewsAnalyzer
	Location  *time.Location
	Logger    *slog.Logger
}

// Server serves the JSON API.
type Server struct {
	bind      string
	users     Users
	watchlist Watchlist
	importer  Importer
	news      NewsReader
	analyzer  ports.NewsAnalyzer
	location  *time.Location
	logger    *slog.Logger
	now       func() time.Time

	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// NewServer builds the handler tree for bind.
func NewServer(bind string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		bind:      bind,
		users:     deps.Users,
		watchlist: deps.Watchlist,
		importer:  deps.Importer,
		news:      deps.News,
		analyzer:  deps.Analyzer,
		location:  loc,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/stocks/add_from_image", s.handleAddFromImage)
	mux.HandleFunc("POST /api/stocks/confirm_from_image", s.handleConfirm)
	mux.HandleFunc("GET /api/stocks/get", s.handleListStocks)
	mux.HandleFunc("POST /api/stocks/remove", s.handleRemoveStocks)
	mux.HandleFunc("GET /api/news", s.handleNews)
	mux.HandleFunc("POST /api/news/sentiment", s.handleSentiment)
	return mux
}

// Start listens on the bind address and shuts down when ctx ends. Done is
// closed once shutdown has finished and in-flight handlers have returned.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api shutdown timed out, closing connections", "error", err)
			_ = s.server.Close()
		}
		<-served
		s.logger.Info("api server stopped")
	}()

	s.logger.Info("api server listening", "address", listener.Addr().String())
	return nil
}

// Done is closed after a started server has shut down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr reports the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type extractRequest struct {
	Image string `json:"image"`
	Text  string `json:"text"`
}

type errorResponse struct {
	Error    string                `json:"error"`
	Rejected []domain.RejectedItem `json:"rejected,omitempty"`
}

func (s *Server) handleAddFromImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Image) == "" && strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "image or text is required")
		return
	}

	pending, err := s.importer.Preview(r.Context(), userID, extraction.Input{ImageBase64: req.Image, Text: req.Text})
	if err != nil {
		s.writePreviewError(w, userID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pending.Result)
}

func (s *Server) writePreviewError(w http.ResponseWriter, userID int64, err error) {
	var (
		noCandidates *usecase.NoCandidatesError
		recErr       *extraction.RecognitionError
		extErr       *extraction.ExtractionError
	)
	switch {
	case errors.As(err, &noCandidates):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: usecase.ErrNoCandidates.Error(), Rejected: noCandidates.Rejected})
	case errors.As(err, &recErr):
		s.logger.Warn("recognition failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusBadGateway, "image recognition failed")
	case errors.As(err, &extErr):
		s.logger.Warn("extraction failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusBadGateway, "stock extraction failed")
	default:
		s.logger.Error("preview failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	report, err := s.importer.Confirm(r.Context(), userID)
	if errors.Is(err, domain.ErrNothingToConfirm) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("confirm failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type stockItem struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	AddedAt string `json:"added_at"`
}

func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	items, err := s.watchlist.ListTrackedItems(r.Context(), userID)
	if err != nil {
		s.logger.Error("list watchlist failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]stockItem, 0, len(items))
	for _, item := range items {
		out = append(out, stockItem{
			ID:      item.ID,
			Code:    item.Identifier,
			Name:    item.DisplayName,
			AddedAt: item.AddedAt.In(s.location).Format(addedAtFormat),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type removeRequest struct {
	Codes []string `json:"codes"`
}

type removeResponse struct {
	Removed      []string `json:"removed"`
	TotalRemoved int      `json:"total_removed"`
}

func (s *Server) handleRemoveStocks(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req removeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || len(req.Codes) == 0 {
		s.writeError(w, http.StatusBadRequest, "codes is required")
		return
	}
	if len(req.Codes) > maxRemove {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d codes per request", maxRemove))
		return
	}

	resp := removeResponse{Removed: []string{}}
	for _, raw := range req.Codes {
		code := extraction.NormalizeIdentifier(raw)
		removed, err := s.watchlist.RemoveTrackedItem(r.Context(), userID, code)
		if err != nil {
			s.logger.Error("remove watchlist item failed", "user_id", userID, "code", code, "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if removed {
			resp.Removed = append(resp.Removed, code)
		}
	}
	resp.TotalRemoved = len(resp.Removed)
	s.writeJSON(w, http.StatusOK, resp)
}

type newsItem struct {
	Title string `json:"title"`
	Time  string `json:"time"`
	Code  string `json:"code"`
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	records, err := s.news.RecentForUser(r.Context(), userID, s.now().Add(-newsWindow), newsLimit)
	if err != nil {
		s.logger.Error("load news failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]newsItem, 0, len(records))
	for _, rec := range records {
		items = append(items, newsItem{
			Title: rec.Title,
			Time:  rec.PublishedAt.In(s.location).Format(newsTimestamp),
			Code:  rec.Identifier,
		})
	}
	s.writeJSON(w, http.StatusOK, items)
}

type sentimentRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.userID(w, r); !ok {
		return
	}
	if s.analyzer == nil {
		s.writeError(w, http.StatusNotImplemented, "sentiment analysis is not configured")
		return
	}
	var req sentimentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	result, err := s.analyzer.AnalyzeNews(r.Context(), req.Text)
	if err != nil {
		s.logger.Warn("sentiment failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "sentiment analysis failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// userID resolves the gateway identity, creating the user on first sight.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	openid := strings.TrimSpace(r.Header.Get(userHeader))
	if openid == "" || len(openid) > maxOpenIDLen {
		s.writeError(w, http.StatusUnauthorized, "missing or invalid "+userHeader)
		return 0, false
	}
	id, err := s.users.EnsureUser(r.Context(), openid)
	if err != nil {
		s.logger.Error("resolve user failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
