package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.APIURL != "http://localhost:8000" {
		t.Fatalf("unexpected API URL: %s", cfg.APIURL)
	}
	if cfg.FeedURL != "ws://localhost:8000/ws/events" {
		t.Fatalf("unexpected feed URL: %s", cfg.FeedURL)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval)
	}
	if cfg.FinalizeGrace != 10*time.Second {
		t.Fatalf("unexpected finalize grace: %s", cfg.FinalizeGrace)
	}
	if cfg.EventLogCapacity != 200 {
		t.Fatalf("unexpected log capacity: %d", cfg.EventLogCapacity)
	}
	if cfg.ArchivePath != "" {
		t.Fatalf("archiving must be disabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_URL", "http://backend:9000")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("EVENT_LOG_CAPACITY", "50")
	t.Setenv("ARCHIVE_PATH", "/tmp/console.db")

	cfg := Load()

	if cfg.APIURL != "http://backend:9000" {
		t.Fatalf("unexpected API URL: %s", cfg.APIURL)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval)
	}
	if cfg.EventLogCapacity != 50 {
		t.Fatalf("unexpected log capacity: %d", cfg.EventLogCapacity)
	}
	if cfg.ArchivePath != "/tmp/console.db" {
		t.Fatalf("unexpected archive path: %s", cfg.ArchivePath)
	}
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "not-a-number")

	cfg := Load()
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("garbage values must fall back to the default, got %s", cfg.PollInterval)
	}
}
