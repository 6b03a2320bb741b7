package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/llmgate/internal/errors"
)

// isolate points HOME and the working directory at empty temp dirs
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(work); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return work
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  openai:
    type: openai
    auth:
      api_key: sk-test
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("Expected default addr, got '%s'", cfg.Server.Addr)
	}
	if cfg.Server.PingInterval != 30*time.Second {
		t.Errorf("Expected ping interval 30s, got %s", cfg.Server.PingInterval)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Expected 5 retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Storage.Driver != StorageMemory {
		t.Errorf("Expected memory storage, got '%s'", cfg.Storage.Driver)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("Expected default provider 'openai', got '%s'", cfg.DefaultProvider)
	}

	p := cfg.Providers["openai"]
	if p.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("Expected OpenAI base URL, got '%s'", p.BaseURL)
	}
	if p.Model != "gpt-4o" {
		t.Errorf("Expected model 'gpt-4o', got '%s'", p.Model)
	}
	if p.Auth.Type != AuthAPIKey {
		t.Errorf("Expected api_key auth, got '%s'", p.Auth.Type)
	}
	if p.GetTimeout() != 180*time.Second {
		t.Errorf("Expected default timeout 180s, got %s", p.GetTimeout())
	}
}

func TestLoad_YAMLParsing(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
server:
  addr: 0.0.0.0:9000
  pong_wait: 90s
  allowed_origins: [http://localhost:3000]
default_provider: claude
providers:
  claude:
    type: anthropic
    model: claude-3-5-haiku-latest
    timeout: 45s
    temperature: 0.2
    headers:
      anthropic-beta: tools-2024-05-16
    auth:
      type: api_key
      api_key: sk-ant
    capabilities:
      streaming: true
      tool_calling: false
storage:
  driver: sqlite
  path: /tmp/history.db
agent:
  max_rounds: 3
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Server.PongWait != 90*time.Second {
		t.Errorf("pong_wait = %s", cfg.Server.PongWait)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}

	p := cfg.Providers["claude"]
	if p.Timeout != 45*time.Second {
		t.Errorf("timeout = %s", p.Timeout)
	}
	if p.Temperature == nil || *p.Temperature != 0.2 {
		t.Errorf("temperature = %v", p.Temperature)
	}
	if p.Headers["anthropic-beta"] != "tools-2024-05-16" {
		t.Errorf("headers = %v", p.Headers)
	}
	if p.MaxTokens != 4096 {
		t.Errorf("Expected anthropic max_tokens default 4096, got %d", p.MaxTokens)
	}
	caps := p.GetCapabilities()
	if !caps.Streaming || caps.ToolCalling {
		t.Errorf("capabilities = %+v", caps)
	}
	if p.GetFormat() != ProviderAnthropic {
		t.Errorf("format = %s", p.GetFormat())
	}
	if cfg.Storage.Driver != StorageSqlite || cfg.Storage.Path != "/tmp/history.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Agent.MaxRounds != 3 {
		t.Errorf("max_rounds = %d", cfg.Agent.MaxRounds)
	}
}

func TestLoad_ExpandsEnvReferences(t *testing.T) {
	dir := isolate(t)
	t.Setenv("MY_GATEWAY_KEY", "sk-from-env")
	t.Setenv("LOCAL_LLM", "http://localhost:11434/v1")
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  local:
    type: openai_compatible
    base_url: ${LOCAL_LLM}
    auth:
      api_key: ${MY_GATEWAY_KEY}
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p := cfg.Providers["local"]
	if p.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("base_url = %s", p.BaseURL)
	}
	if p.Auth.APIKey != "sk-from-env" {
		t.Errorf("api_key = %s", p.Auth.APIKey)
	}
}

func TestLoad_VendorKeyFallback(t *testing.T) {
	dir := isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  anthropic:
    type: anthropic
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := cfg.Providers["anthropic"].Auth.APIKey; got != "sk-ant-env" {
		t.Errorf("Expected key from ANTHROPIC_API_KEY, got '%s'", got)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  openai:
    type: openai
`)

	_, err := Load("", nil)
	if err == nil {
		t.Fatal("Expected error for missing API key, got nil")
	}
	var missing *errors.MissingEnvVarError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingEnvVarError, got %T: %v", err, err)
	}
	if errors.KindOf(err) != errors.KindConfig {
		t.Errorf("Expected config kind, got %s", errors.KindOf(err))
	}
}

func TestLoad_InvalidProviderType(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  x:
    type: gemini
    auth:
      api_key: k
`)

	_, err := Load("", nil)
	var invalid *errors.InvalidEnvVarError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidEnvVarError, got %v", err)
	}
}

func TestLoad_PassthroughRequiresBaseURL(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  relay:
    type: passthrough
`)

	if _, err := Load("", nil); err == nil {
		t.Fatal("Expected error for passthrough without base_url")
	}
}

func TestLoad_NoProviders(t *testing.T) {
	isolate(t)
	if _, err := Load("", nil); err == nil {
		t.Fatal("Expected error when no providers are configured")
	}
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(os.Getenv("HOME"), GlobalConfigFile), `
server:
  addr: global:1
logging:
  file_level: debug
providers:
  openai:
    auth:
      api_key: global-key
`)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
server:
  addr: project:2
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Server.Addr != "project:2" {
		t.Errorf("Expected project addr, got %s", cfg.Server.Addr)
	}
	if cfg.Logging.FileLevel != "debug" {
		t.Errorf("Expected global file_level to survive merge, got %s", cfg.Logging.FileLevel)
	}
	if cfg.Providers["openai"].Auth.APIKey != "global-key" {
		t.Errorf("Expected global provider to survive merge")
	}
}

func TestLoad_CLIOverridesAll(t *testing.T) {
	dir := isolate(t)
	t.Setenv("LLMGATE_SERVER_ADDR", "env:3")
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
server:
  addr: project:2
providers:
  openai:
    auth:
      api_key: k
`)

	cfg, err := Load("", map[string]interface{}{"server.addr": "cli:4"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Server.Addr != "cli:4" {
		t.Errorf("Expected CLI addr, got %s", cfg.Server.Addr)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	dir := isolate(t)
	t.Setenv("LLMGATE_AGENT_MAX_ROUNDS", "9")
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  openai:
    auth:
      api_key: k
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Agent.MaxRounds != 9 {
		t.Errorf("Expected max_rounds 9 from env, got %d", cfg.Agent.MaxRounds)
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	isolate(t)
	_, err := Load("does-not-exist.yaml", nil)
	var fileErr *errors.ConfigFileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("Expected ConfigFileError, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), "providers: [unclosed")
	if _, err := Load("", nil); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_DeviceCodeAuth(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigFile), `
providers:
  copilot:
    type: openai_compatible
    base_url: https://api.example.com
    auth:
      device_code:
        client_id: abc
        device_url: https://example.com/device/code
        token_url: https://example.com/token
        scopes: read:user
        interval: 2s
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	a := cfg.Providers["copilot"].Auth
	if a.Type != AuthDeviceCode {
		t.Errorf("Expected device_code auth inferred, got %s", a.Type)
	}
	if a.DeviceCode.Interval != 2*time.Second {
		t.Errorf("interval = %s", a.DeviceCode.Interval)
	}
	if len(a.DeviceCode.Scopes) != 1 || a.DeviceCode.Scopes[0] != "read:user" {
		t.Errorf("scopes = %v", a.DeviceCode.Scopes)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("A_VAR", "alpha")
	tests := map[string]string{
		"${A_VAR}":         "alpha",
		"x-${A_VAR}-y":     "x-alpha-y",
		"${UNSET_VAR_XYZ}": "",
		"$A_VAR":           "$A_VAR",
		"plain":            "plain",
	}
	for in, want := range tests {
		if got := ExpandEnv(in); got != want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProviderAPIKeyEnv(t *testing.T) {
	if got := ProviderAPIKeyEnv("my-local.llm"); got != "LLMGATE_PROVIDERS_MY_LOCAL_LLM_API_KEY" {
		t.Errorf("ProviderAPIKeyEnv = %s", got)
	}
}

func TestGetEnvVar_Missing(t *testing.T) {
	t.Setenv("LLMGATE_TEST_MISSING", "")
	if _, err := GetEnvVar("LLMGATE_TEST_MISSING", "test"); err == nil {
		t.Fatal("Expected error for missing variable")
	}
	if got := GetEnvVarOrDefault("LLMGATE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %s", got)
	}
}
