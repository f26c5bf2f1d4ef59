// Package config provides configuration for the console.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the console configuration. The reconciliation timings are
// empirically tuned, so all of them are overridable from the environment.
type Config struct {
	// Backend settings
	APIURL  string // REST base URL (snapshot poll, launch, workers)
	FeedURL string // WebSocket event feed URL

	// HTTP settings
	HTTPTimeout time.Duration

	// Feed settings
	ReconnectDelay   time.Duration
	EventLogCapacity int

	// Reconciliation poller settings
	PollInterval     time.Duration // steady-state poll cadence
	PollInitialDelay time.Duration // head start for push events on fast runs
	PollRetryDelay   time.Duration // re-poll delay when completed but unconfirmed
	FinalizeGrace    time.Duration // after this, REST "completed" is authoritative

	// Archive settings
	ArchivePath string // SQLite file path; empty disables archiving
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		APIURL:           getEnv("API_URL", "http://localhost:8000"),
		FeedURL:          getEnv("FEED_URL", "ws://localhost:8000/ws/events"),
		HTTPTimeout:      getEnvDuration("HTTP_TIMEOUT_MS", 10000),
		ReconnectDelay:   getEnvDuration("FEED_RECONNECT_DELAY_MS", 5000),
		EventLogCapacity: getEnvInt("EVENT_LOG_CAPACITY", 200),
		PollInterval:     getEnvDuration("POLL_INTERVAL_MS", 2000),
		PollInitialDelay: getEnvDuration("POLL_INITIAL_DELAY_MS", 500),
		PollRetryDelay:   getEnvDuration("POLL_RETRY_DELAY_MS", 500),
		FinalizeGrace:    getEnvDuration("FINALIZE_GRACE_MS", 10000),
		ArchivePath:      getEnv("ARCHIVE_PATH", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
