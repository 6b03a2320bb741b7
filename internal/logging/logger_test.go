package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(&Config{LogDir: dir, FileLevel: zapcore.DebugLevel})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Named("gateway").Info("Connection opened", ConnID("c1"), SessionID("s1"))
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
	if entry["logger"] != "gateway" {
		t.Errorf("logger = %v, want gateway", entry["logger"])
	}
	if entry[KeySession] != "s1" || entry[KeyConnection] != "c1" {
		t.Errorf("missing id fields: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp key")
	}
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&Config{ConsoleEnabled: true, ConsoleLevel: zapcore.WarnLevel, Console: &buf})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestWith_CarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core)).With(String(KeyProvider, "openai"))
	logger.Debug("Chat completed", Int("output_tokens", 12))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx[KeyProvider] != "openai" {
		t.Errorf("provider field = %v", ctx[KeyProvider])
	}
	if ctx["output_tokens"] != int64(12) {
		t.Errorf("output_tokens = %v", ctx["output_tokens"])
	}
}

func TestNewNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("nothing")
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync on nop logger: %v", err)
	}
}
