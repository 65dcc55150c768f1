package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stocklink.yaml")
	raw := []byte(`
database:
  driver: postgres
  dsn: postgres://stock:secret@db:5432/stocklink?sslmode=disable
scheduler:
  interval: 6h
  timezone: UTC
http:
  maxRetries: 5
  cooldown: 2s
notify:
  freshnessWindow: 24h
  maxPerUser: 3
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(deepseekAPIKeyEnv, "sk-test")
	cfg := Load(path)

	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Scheduler.Interval != 6*time.Hour {
		t.Fatalf("unexpected interval %s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", cfg.Scheduler.Location())
	}
	if cfg.HTTP.MaxRetries != 5 || cfg.HTTP.Cooldown != 2*time.Second {
		t.Fatalf("unexpected http config %+v", cfg.HTTP)
	}
	if cfg.HTTP.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout to survive merge, got %s", cfg.HTTP.Timeout)
	}
	if cfg.Notify.FreshnessWindow != 24*time.Hour || cfg.Notify.MaxPerUser != 3 {
		t.Fatalf("unexpected notify config %+v", cfg.Notify)
	}
	if cfg.Notify.PreviewRunes != 20 {
		t.Fatalf("expected default preview budget, got %d", cfg.Notify.PreviewRunes)
	}
	if cfg.DeepSeek.APIKey != "sk-test" {
		t.Fatalf("expected env override for api key, got %q", cfg.DeepSeek.APIKey)
	}
}

func TestLoadFallsBackOnUnreadableFile(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg.Notify.FreshnessWindow != 12*time.Hour || cfg.Notify.MaxPerUser != 5 {
		t.Fatalf("expected defaults, got %+v", cfg.Notify)
	}
	if cfg.Staging.MaxCandidates != 20 {
		t.Fatalf("expected default candidate cap, got %d", cfg.Staging.MaxCandidates)
	}
}
