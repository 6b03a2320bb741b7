package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/llmgate/internal/auth"
	"github.com/user/llmgate/internal/config"
	appErrors "github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llm"
	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/store"
)

func TestInitLogger_CreatesLogDir(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	logger, err := InitLogger(config.LoggingConfig{LogDir: logDir, FileLevel: "info", ConsoleLevel: "warn"}, false, false)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer logger.Sync()

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		t.Errorf("Expected %s directory to be created", logDir)
	}
}

func TestInitLogger_NoFileOutput(t *testing.T) {
	logger, err := InitLogger(config.LoggingConfig{}, true, true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if logger == nil {
		t.Fatal("Expected logger, got nil")
	}
}

func TestOpenHistoryStore_Memory(t *testing.T) {
	hs, closeFn, err := openHistoryStore(config.StorageConfig{Driver: config.StorageMemory})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer closeFn()

	if _, ok := hs.(*store.MemoryStore); !ok {
		t.Errorf("Expected *store.MemoryStore, got %T", hs)
	}
}

func TestOpenHistoryStore_Sqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	hs, closeFn, err := openHistoryStore(config.StorageConfig{Driver: config.StorageSqlite, Path: path})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer closeFn()

	if _, ok := hs.(*store.SqliteStore); !ok {
		t.Errorf("Expected *store.SqliteStore, got %T", hs)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected database file at %s: %v", path, err)
	}
}

func TestOpenTokenCache(t *testing.T) {
	tokens, err := openTokenCache(config.StorageConfig{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if tokens == nil {
		t.Fatal("Expected in-memory cache, got nil")
	}

	path := filepath.Join(t.TempDir(), "tokens.json")
	persisted, err := openTokenCache(config.StorageConfig{TokenCachePath: path})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	tok := auth.Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	if err := persisted.Put("copilot", tok); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	reopened, err := openTokenCache(config.StorageConfig{TokenCachePath: path})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	got, ok := reopened.Get("copilot")
	if !ok || got.AccessToken != "abc" {
		t.Errorf("Expected persisted token 'abc', got %+v (found=%v)", got, ok)
	}
}

func TestAgentOptions(t *testing.T) {
	opts, err := agentOptions(config.AgentConfig{})
	if err != nil || opts != nil {
		t.Errorf("Expected no options without a workspace, got %v, %v", opts, err)
	}

	opts, err = agentOptions(config.AgentConfig{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(opts) != 1 {
		t.Errorf("Expected 1 option, got %d", len(opts))
	}

	if _, err := agentOptions(config.AgentConfig{Workspace: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("Expected error for a missing workspace")
	}

	promptsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(promptsDir, "system.yaml"), []byte("system: \"Be brief\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write prompts: %v", err)
	}
	opts, err = agentOptions(config.AgentConfig{Workspace: t.TempDir(), PromptsDir: promptsDir})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(opts) != 2 {
		t.Errorf("Expected tools and prompts options, got %d", len(opts))
	}

	_, err = agentOptions(config.AgentConfig{PromptsDir: filepath.Join(promptsDir, "missing")})
	if appErrors.KindOf(err) != appErrors.KindConfig {
		t.Errorf("Expected config error for a missing prompts dir, got %v", err)
	}
}

func TestServeOptions_Overrides(t *testing.T) {
	opts := &serveOptions{addr: ":9000", storage: "sqlite"}
	got := opts.overrides()

	if got["server.addr"] != ":9000" {
		t.Errorf("Expected server.addr ':9000', got %v", got["server.addr"])
	}
	if got["storage.driver"] != "sqlite" {
		t.Errorf("Expected storage.driver 'sqlite', got %v", got["storage.driver"])
	}
	if _, ok := got["agent.workspace"]; ok {
		t.Error("Expected unset flags to be absent")
	}
}

func TestPrintCommandError(t *testing.T) {
	var buf bytes.Buffer
	printCommandError(&buf, appErrors.NewConfigurationError("no providers configured"))
	if !strings.Contains(buf.String(), "no providers configured") {
		t.Errorf("Expected user message, got %q", buf.String())
	}

	buf.Reset()
	printCommandError(&buf, os.ErrNotExist)
	if !strings.HasPrefix(buf.String(), "Error: ") {
		t.Errorf("Expected plain error prefix, got %q", buf.String())
	}
}

func TestWriteProviderTable(t *testing.T) {
	var buf bytes.Buffer
	writeProviderTable(&buf, []llmtypes.ProviderMetadata{
		{ID: "anthropic", DisplayName: "Anthropic", Capabilities: llmtypes.Capabilities{Streaming: true, ToolCalling: true}},
		{ID: "local", DisplayName: "Local"},
	}, "anthropic")

	out := buf.String()
	if !strings.Contains(out, "anthropic *") {
		t.Errorf("Expected default marker, got:\n%s", out)
	}
	if !strings.Contains(out, "streaming,tools") {
		t.Errorf("Expected capability list, got:\n%s", out)
	}
}

func TestWriteValidation(t *testing.T) {
	var buf bytes.Buffer
	failed := writeValidation(&buf, []llm.ValidationResult{
		{ID: "openai", Duration: 120 * time.Millisecond},
		{ID: "anthropic", Err: appErrors.NewAuthError("anthropic", "invalid x-api-key", nil)},
	})

	if failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failed)
	}
	if !strings.Contains(buf.String(), "FAIL  anthropic") {
		t.Errorf("Expected failure line, got:\n%s", buf.String())
	}
}

func TestPrintPresenter(t *testing.T) {
	var buf bytes.Buffer
	err := printPresenter(&buf).Present(context.Background(), auth.Prompt{
		Provider:        "copilot",
		UserCode:        "WDJB-MJHT",
		VerificationURL: "https://example.com/device",
		ExpiresAt:       time.Now().Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), "WDJB-MJHT") || !strings.Contains(buf.String(), "https://example.com/device") {
		t.Errorf("Expected code and URL in output, got:\n%s", buf.String())
	}
}
