package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	cfg := mgr.Get()
	cfg.ResultsDir = filepath.Join(dir, "results")
	if err := mgr.Update(cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mgr.SetSchedule("claude", "@every 4h"); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}

	// a fresh manager reads what was persisted
	reopened, err := NewManager(WithConfigDir(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Get()
	if got.ResultsDir != cfg.ResultsDir {
		t.Fatalf("expected results dir %s, got %s", cfg.ResultsDir, got.ResultsDir)
	}
	if got.Schedules["claude"] != "@every 4h" {
		t.Fatalf("expected claude schedule to persist, got %v", got.Schedules)
	}

	if err := reopened.RemoveSchedule("claude"); err != nil {
		t.Fatalf("RemoveSchedule: %v", err)
	}
	if _, ok := reopened.Get().Schedules["claude"]; ok {
		t.Fatalf("claude schedule not removed")
	}
}

func TestManagerRejectsBadSchedule(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.SetSchedule("claude", "every four hours"); err == nil {
		t.Fatalf("expected parse error")
	}
	if len(mgr.Get().Schedules) != 0 {
		t.Fatalf("bad schedule must not be stored: %v", mgr.Get().Schedules)
	}
}

func TestManagerLoadsPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data, _ := json.Marshal(map[string]any{"yahoo_symbol": "MGC=F"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	mgr, err := NewManager(WithConfigPath(path))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	if cfg.YahooSymbol != "MGC=F" {
		t.Fatalf("yahoo symbol = %q", cfg.YahooSymbol)
	}
	if cfg.MaxNewsItems != 10 || cfg.ResultsDir != filepath.Join(dir, "data", "analysis") {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestManagerRejectsInvalidUpdate(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := mgr.Get()
	cfg.RetryMaxAttempts = 0
	if err := mgr.Update(cfg); err == nil {
		t.Fatalf("expected validation error for zero retry attempts")
	}
	if mgr.Get().RetryMaxAttempts != 3 {
		t.Fatalf("rejected update must not be applied")
	}
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 1)
	if err := mgr.Watch(ctx, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cfg := mgr.Get()
	cfg.Schedules = map[string]string{"openai": "@hourly"}
	if err := saveConfigFile(mgr.Path(), cfg); err != nil {
		t.Fatalf("saveConfigFile: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.Schedules["openai"] != "@hourly" {
			t.Fatalf("unexpected schedules after reload: %v", got.Schedules)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire on config change")
	}
}

func TestParseSchedules(t *testing.T) {
	got := ParseSchedules("claude=0 0 */4 * * *; openai=@every 2h;broken;=x")
	if len(got) != 2 {
		t.Fatalf("expected 2 schedules, got %v", got)
	}
	if got["claude"] != "0 0 */4 * * *" {
		t.Fatalf("claude spec = %q", got["claude"])
	}
	if got["openai"] != "@every 2h" {
		t.Fatalf("openai spec = %q", got["openai"])
	}
}
