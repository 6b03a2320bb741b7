package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/llmgate/internal/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a starter configuration with one OpenAI and one Anthropic provider
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			SendQueue:       256,
			MaxMessageSize:  1 << 20,
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Type:  ProviderOpenAI,
				Model: "gpt-4o",
				Auth:  AuthConfig{Type: AuthAPIKey, APIKey: "${OPENAI_API_KEY}"},
			},
			"anthropic": {
				Type:      ProviderAnthropic,
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
				Auth:      AuthConfig{Type: AuthAPIKey, APIKey: "${ANTHROPIC_API_KEY}"},
			},
		},
		DefaultProvider: "openai",
		Retry: RetryConfig{
			MaxAttempts:       5,
			Multiplier:        1,
			MaxWaitPerAttempt: 60 * time.Second,
			MaxTotalWait:      300 * time.Second,
		},
		Logging: LoggingConfig{
			LogDir:       ".llmgate/logs",
			FileLevel:    "info",
			ConsoleLevel: "info",
		},
		Storage: StorageConfig{
			Driver:         StorageMemory,
			Path:           ".llmgate/history.db",
			TokenCachePath: ".llmgate/tokens.json",
		},
		Agent: AgentConfig{MaxRounds: 5},
	}
}

var sectionComments = map[string]string{
	"server":           "Websocket listener. Clients connect to ws://<addr>/ws\nauth_token, when set, must be sent in every connect message",
	"providers":        "Upstream LLM providers keyed by id. ${VAR} references are read from the environment.\ntype: openai | anthropic | openai_compatible | passthrough\nauth.type: api_key | bearer | none | device_code",
	"default_provider": "Provider used when a chat names none",
	"retry":            "Backoff for transport errors and 5xx responses. 429 is never retried here.",
	"logging":          "JSON logs go to <log_dir>/llmgate.log",
	"storage":          "Session history: memory or sqlite",
	"agent":            "Chat orchestration. max_rounds bounds tool-call round trips.\nworkspace exposes read_file and list_files over that directory.\nprompts_dir holds system prompt templates (system, system_<provider>).",
}

// MarshalCommented renders cfg as YAML with a comment above each top-level section
func MarshalCommented(cfg *GatewayConfig) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}
	doc.HeadComment = "llmgate configuration"

	return yaml.Marshal(&doc)
}

// WriteDefaultConfig writes the starter configuration to path. Existing files are kept unless force is set.
func WriteDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewConfigurationError(fmt.Sprintf("%s already exists; use --force to overwrite", path))
	}

	data, err := MarshalCommented(DefaultConfig())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewConfigFileError(path, err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.NewConfigFileError(path, err)
	}
	return nil
}
