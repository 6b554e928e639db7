package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen=%s", cfg.Listen)
	}
	if cfg.ReadTimeout.Duration != 15*time.Second {
		t.Fatalf("read timeout=%v", cfg.ReadTimeout.Duration)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateBurst != 20 {
		t.Fatalf("rate burst=%d", cfg.RateBurst)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refundly.toml")
	body := "listen = \":9090\"\nread_timeout = \"5s\"\nrate_burst = 3\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REFUNDLY_LISTEN", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7070" { // env beats file
		t.Fatalf("listen=%s", cfg.Listen)
	}
	if cfg.ReadTimeout.Duration != 5*time.Second {
		t.Fatalf("read timeout=%v", cfg.ReadTimeout.Duration)
	}
	if cfg.RateBurst != 3 {
		t.Fatalf("rate burst=%d", cfg.RateBurst)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("REFUNDLY_RATE_BURST", "zero")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for bad rate burst")
	}
}
