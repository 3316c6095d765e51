// Package config provides environment/flag-driven configuration for
// the riakbridge consumer.
package config

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/riakbridge/riakbridge/internal/record"
)

// Config holds the consumer's runtime configuration.
type Config struct {
	Host string
	Port int
	Queue string
	Bucket string

	VClockMode record.VClockMode

	PollIdleInterval time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration

	SpoolPath      string
	CheckpointDir  string
	CheckpointEvery time.Duration

	WebAddr  string
	LogLevel string
}

// NewLogger builds a structured logger gated at c.LogLevel, the same
// recipe the teacher's internal/server.NewWithConfig uses to turn its
// Config.LogLevel into an *slog.Logger: debug/warn(ing)/error map to
// the matching slog.Level, anything else (including "info" and "")
// defaults to info.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(log.Writer(), &slog.HandlerOptions{Level: level}))
}

// envOrDefault returns the environment variable value if set, otherwise the fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Parse reads configuration from flags, falling back to environment
// variables and then the documented defaults (spec §6.4). Flags take
// precedence over the environment.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("riakbridge", flag.ContinueOnError)

	host := fs.String("host", envOrDefault("RIAK_HOST", "localhost"), "Queue host")
	port := fs.Int("port", envIntOrDefault("RIAK_PORT", 8098), "Queue port")
	queue := fs.String("queue", envOrDefault("RIAK_QUEUE", "q1_ttaaefs"), "Queue name")
	bucket := fs.String("bucket", envOrDefault("RIAK_BUCKET", "test"), "Bucket filter")
	vclockMode := fs.String("vclock-mode", envOrDefault("VCLOCK_MODE", "base64"), "Vector clock mode: base64|dict")
	pollIdle := fs.Duration("poll-idle", envDurationOrDefault("POLL_IDLE_INTERVAL", 100*time.Millisecond), "Sleep after an empty poll")
	backoffBase := fs.Duration("backoff-base", envDurationOrDefault("BACKOFF_BASE", time.Second), "Fetch-error backoff base")
	backoffMax := fs.Duration("backoff-max", envDurationOrDefault("BACKOFF_MAX", 30*time.Second), "Fetch-error backoff cap")
	spoolPath := fs.String("spool", envOrDefault("SPOOL_PATH", "data/riakbridge.spool"), "Spool file path")
	checkpointDir := fs.String("checkpoint-dir", envOrDefault("CHECKPOINT_DIR", "data/checkpoints"), "Checkpoint directory")
	webAddr := fs.String("webaddr", envOrDefault("WEB_ADDR", ":8080"), "Status API address")
	logLevel := fs.String("loglevel", envOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	mode, err := record.ParseVClockMode(*vclockMode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &Config{
		Host:            *host,
		Port:            *port,
		Queue:           *queue,
		Bucket:          *bucket,
		VClockMode:      mode,
		PollIdleInterval: *pollIdle,
		BackoffBase:     *backoffBase,
		BackoffMax:      *backoffMax,
		SpoolPath:       *spoolPath,
		CheckpointDir:   *checkpointDir,
		CheckpointEvery: 30 * time.Second,
		WebAddr:         *webAddr,
		LogLevel:        *logLevel,
	}, nil
}
