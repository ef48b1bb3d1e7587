package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "asyncinfer.db"
	defaultTimeout        = 10 * time.Second
	defaultNumStreams     = 0
	defaultShutdownPeriod = 15 * time.Second

	envListenAddr     = "ASYNCINFER_LISTEN_ADDR"
	envDBPath         = "ASYNCINFER_DB_PATH"
	envLogLevel       = "ASYNCINFER_LOG_LEVEL"
	envDefaultTimeout = "ASYNCINFER_DEFAULT_TIMEOUT_MS"
	envNumStreams     = "ASYNCINFER_NUM_STREAMS"
	envModelPath      = "ASYNCINFER_MODEL_PATH"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// DefaultTimeout is the per-task timeout for batches submitted without one.
	DefaultTimeout time.Duration
	// NumStreams is the CPU engine's default stream count; zero means GOMAXPROCS.
	NumStreams int
	// ModelPath, when set, names a model file loaded on startup.
	ModelPath string

	ShutdownPeriod time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric values fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		DefaultTimeout: defaultTimeout,
		NumStreams:     defaultNumStreams,
		ShutdownPeriod: defaultShutdownPeriod,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDefaultTimeout); v != "" {
		if ms, ok := parsePositiveInt(v); ok {
			cfg.DefaultTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(envNumStreams); v != "" {
		if n, ok := parsePositiveInt(v); ok {
			cfg.NumStreams = n
		}
	}
	cfg.ModelPath = os.Getenv(envModelPath)

	return cfg
}

func parsePositiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
