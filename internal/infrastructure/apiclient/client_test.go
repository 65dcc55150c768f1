package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(sleeps *[]time.Duration) Option {
	return WithSleeper(func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	})
}

func TestCallRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := New(Config{MaxRetries: 3, Cooldown: 2 * time.Second, Timeout: time.Second}, noSleep(&sleeps))

	resp, err := client.Call(context.Background(), Request{Name: "test", Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	var body struct {
		OK bool `json:"ok"`
	}
	if err := resp.DecodeJSON(&body); err != nil || !body.OK {
		t.Fatalf("unexpected body %q (err %v)", resp.Body, err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("expected two fixed cooldowns, got %v", sleeps)
	}
}

func TestCallExhaustionReturnsCallError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := New(Config{MaxRetries: 2, Timeout: time.Second}, noSleep(&sleeps))

	_, err := client.Call(context.Background(), Request{Name: "llm.complete", URL: server.URL})
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Attempts != 2 || hits.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d (hits %d)", callErr.Attempts, hits.Load())
	}
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected upstream 429 as last cause, got %v", callErr.LastCause)
	}
	if len(sleeps) != 1 {
		t.Fatalf("expected cooldown only between attempts, got %d", len(sleeps))
	}
}

func TestCallReportsAttemptsMadeBeforeCancel(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := New(Config{MaxRetries: 5, Timeout: time.Second}, WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := client.Call(ctx, Request{Name: "news.fetch", Method: http.MethodGet, URL: server.URL})
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Attempts != 1 || hits.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d (hits %d)", callErr.Attempts, hits.Load())
	}
}

func TestCallCheckMarksBodyErrorsAsUpstream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":40001}`))
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := New(Config{MaxRetries: 2}, noSleep(&sleeps))

	_, err := client.Call(context.Background(), Request{
		Name: "wechat.send",
		URL:  server.URL,
		Check: func(resp Response) error {
			return errors.New("errcode 40001")
		},
	})
	if !IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestCallTimeoutIsTransportError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	var sleeps []time.Duration
	client := New(Config{MaxRetries: 1, Timeout: 50 * time.Millisecond}, noSleep(&sleeps))

	_, err := client.Call(context.Background(), Request{Name: "slow", Method: http.MethodGet, URL: server.URL})
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewCoercesRetries(t *testing.T) {
	t.Parallel()

	client := New(Config{MaxRetries: 0})
	if client.cfg.MaxRetries < 1 {
		t.Fatalf("expected at least one attempt, got %d", client.cfg.MaxRetries)
	}
}
