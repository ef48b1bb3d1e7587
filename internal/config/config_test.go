package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envDefaultTimeout, "")
	t.Setenv(envNumStreams, "")
	t.Setenv(envModelPath, "")

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.DefaultTimeout != defaultTimeout {
		t.Errorf("DefaultTimeout = %v, want %v", cfg.DefaultTimeout, defaultTimeout)
	}
	if cfg.NumStreams != 0 {
		t.Errorf("NumStreams = %d, want 0", cfg.NumStreams)
	}
	if cfg.ModelPath != "" {
		t.Errorf("ModelPath = %q, want empty", cfg.ModelPath)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envDefaultTimeout, "2500")
	t.Setenv(envNumStreams, "4")
	t.Setenv(envModelPath, "samples/classifier.json")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.DefaultTimeout != 2500*time.Millisecond {
		t.Errorf("DefaultTimeout = %v, want 2.5s", cfg.DefaultTimeout)
	}
	if cfg.NumStreams != 4 {
		t.Errorf("NumStreams = %d, want 4", cfg.NumStreams)
	}
	if cfg.ModelPath != "samples/classifier.json" {
		t.Errorf("ModelPath = %q, want %q", cfg.ModelPath, "samples/classifier.json")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv(envDefaultTimeout, "soon")
	t.Setenv(envNumStreams, "-2")

	cfg := Load()

	if cfg.DefaultTimeout != defaultTimeout {
		t.Errorf("DefaultTimeout = %v, want default %v", cfg.DefaultTimeout, defaultTimeout)
	}
	if cfg.NumStreams != 0 {
		t.Errorf("NumStreams = %d, want 0", cfg.NumStreams)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
