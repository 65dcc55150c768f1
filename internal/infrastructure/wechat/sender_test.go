package wechat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/config"
	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/apiclient"
)

func newTestSender(t *testing.T, handler http.Handler, retries int) *Sender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	api := apiclient.New(apiclient.Config{MaxRetries: retries, Timeout: time.Second},
		apiclient.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	return NewSender(config.WeChatConfig{
		TokenURL: server.URL + "/token",
		SendURL:  server.URL + "/send",
		AppID:    "wx-app",
		Secret:   "wx-secret",
	}, api)
}

func TestSendPostsTemplateAndCachesToken(t *testing.T) {
	t.Parallel()

	var tokenHits atomic.Int32
	received := make(chan sendPayload, 2)
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenHits.Add(1)
		if r.URL.Query().Get("grant_type") != "client_credential" || r.URL.Query().Get("appid") != "wx-app" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":7200}`))
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok" {
			_, _ = w.Write([]byte(`{"errcode":40001,"errmsg":"invalid credential"}`))
			return
		}
		var payload sendPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received <- payload
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	})

	sender := newTestSender(t, mux, 1)
	msg := domain.PushMessage{
		Recipient:  "openid-alice",
		TemplateID: "tpl-1",
		Data:       map[string]string{"thing1": "今日股票资讯更新", "time2": "08:00"},
	}
	for i := 0; i < 2; i++ {
		if err := sender.Send(context.Background(), msg); err != nil {
			t.Fatalf("Send returned error: %v", err)
		}
	}

	if tokenHits.Load() != 1 {
		t.Fatalf("expected cached token, got %d token calls", tokenHits.Load())
	}
	got := <-received
	if got.ToUser != "openid-alice" || got.TemplateID != "tpl-1" {
		t.Fatalf("unexpected payload %#v", got)
	}
	if got.Data["thing1"].Value != "今日股票资讯更新" || got.Data["time2"].Value != "08:00" {
		t.Fatalf("unexpected data %#v", got.Data)
	}
}

func TestSendErrcodeIsUpstreamError(t *testing.T) {
	t.Parallel()

	var sends atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":7200}`))
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)
		_, _ = w.Write([]byte(`{"errcode":43101,"errmsg":"user refuse to accept the msg"}`))
	})

	sender := newTestSender(t, mux, 2)
	err := sender.Send(context.Background(), domain.PushMessage{Recipient: "openid-bob", TemplateID: "tpl-1"})
	if !apiclient.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if sends.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", sends.Load())
	}
}

func TestSendRequiresCredentials(t *testing.T) {
	t.Parallel()

	sender := NewSender(config.WeChatConfig{}, apiclient.New(apiclient.Config{}))
	if err := sender.Send(context.Background(), domain.PushMessage{Recipient: "x", TemplateID: "y"}); err == nil {
		t.Fatal("expected misconfiguration error")
	}
}
