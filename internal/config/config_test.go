package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if cfg.Refresh.Interval.Std() != time.Hour {
		t.Fatalf("expected default interval 1h, got %v", cfg.Refresh.Interval)
	}
	if cfg.Fanout.Width != 4 {
		t.Fatalf("expected default fanout width 4, got %d", cfg.Fanout.Width)
	}
	if cfg.Addr() != "127.0.0.1:8086" {
		t.Fatalf("unexpected default addr %q", cfg.Addr())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sellerhub.yaml")
	data := `
host: 0.0.0.0
port: "9090"
db_path: /tmp/hub.db
refresh:
  interval: 30m
  between_accounts: 250ms
fanout:
  width: 8
oauth:
  client_id: my-app
  client_secret: my-secret
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.Refresh.Interval.Std() != 30*time.Minute {
		t.Fatalf("unexpected interval %v", cfg.Refresh.Interval)
	}
	if cfg.Refresh.BetweenAccounts.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected pacing %v", cfg.Refresh.BetweenAccounts)
	}
	if cfg.Fanout.Width != 8 || cfg.OAuth.ClientID != "my-app" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("MELI_CLIENT_ID", "env-app")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("expected env port, got %q", cfg.Port)
	}
	if cfg.OAuth.ClientID != "env-app" {
		t.Fatalf("expected env client id, got %q", cfg.OAuth.ClientID)
	}
}
