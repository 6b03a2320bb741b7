package config

import (
	"time"

	"github.com/user/llmgate/internal/llmtypes"
)

// Provider wire types
const (
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderOpenAICompatible = "openai_compatible"
	ProviderPassthrough      = "passthrough"
)

// Auth types
const (
	AuthAPIKey     = "api_key"
	AuthBearer     = "bearer"
	AuthNone       = "none"
	AuthDeviceCode = "device_code"
)

// Storage drivers
const (
	StorageMemory = "memory"
	StorageSqlite = "sqlite"
)

// GatewayConfig is the top-level configuration read from llmgate.yaml
type GatewayConfig struct {
	Server          ServerConfig              `mapstructure:"server" yaml:"server"`
	Providers       map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	DefaultProvider string                    `mapstructure:"default_provider" yaml:"default_provider"`
	Retry           RetryConfig               `mapstructure:"retry" yaml:"retry"`
	Logging         LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Storage         StorageConfig             `mapstructure:"storage" yaml:"storage"`
	Agent           AgentConfig               `mapstructure:"agent" yaml:"agent"`
}

// ServerConfig holds the websocket listener settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	SendQueue       int           `mapstructure:"send_queue" yaml:"send_queue"`             // Outbound messages buffered per connection
	MaxMessageSize  int64         `mapstructure:"max_message_size" yaml:"max_message_size"` // Bytes accepted per client frame
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// AuthToken, when set, must be presented in every connect message
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`
}

// ProviderConfig describes one upstream
type ProviderConfig struct {
	Type         string                 `mapstructure:"type" yaml:"type"` // openai, anthropic, openai_compatible, passthrough
	DisplayName  string                 `mapstructure:"display_name" yaml:"display_name,omitempty"`
	Format       string                 `mapstructure:"format" yaml:"format,omitempty"` // wire format for passthrough: openai or anthropic
	Model        string                 `mapstructure:"model" yaml:"model"`
	BaseURL      string                 `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Auth         AuthConfig             `mapstructure:"auth" yaml:"auth"`
	Timeout      time.Duration          `mapstructure:"timeout" yaml:"timeout,omitempty"`
	MaxTokens    int                    `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature  *float64               `mapstructure:"temperature" yaml:"temperature,omitempty"`
	Headers      map[string]string      `mapstructure:"headers" yaml:"headers,omitempty"`
	Capabilities *llmtypes.Capabilities `mapstructure:"capabilities" yaml:"capabilities,omitempty"` // nil uses the type's defaults
}

// AuthConfig selects and configures a provider's authenticator
type AuthConfig struct {
	Type       string           `mapstructure:"type" yaml:"type"` // api_key, bearer, none, device_code
	APIKey     string           `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Header     string           `mapstructure:"header" yaml:"header,omitempty"` // overrides the api key header name
	Token      string           `mapstructure:"token" yaml:"token,omitempty"`
	DeviceCode DeviceCodeConfig `mapstructure:"device_code" yaml:"device_code,omitempty"`
}

// DeviceCodeConfig configures the OAuth device authorization grant
type DeviceCodeConfig struct {
	ClientID  string        `mapstructure:"client_id" yaml:"client_id,omitempty"`
	DeviceURL string        `mapstructure:"device_url" yaml:"device_url,omitempty"`
	TokenURL  string        `mapstructure:"token_url" yaml:"token_url,omitempty"`
	Scopes    []string      `mapstructure:"scopes" yaml:"scopes,omitempty"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval,omitempty"` // used when the vendor omits one
}

// RetryConfig holds HTTP retry configuration
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Multiplier        int           `mapstructure:"multiplier" yaml:"multiplier"`
	MaxWaitPerAttempt time.Duration `mapstructure:"max_wait_per_attempt" yaml:"max_wait_per_attempt"`
	MaxTotalWait      time.Duration `mapstructure:"max_total_wait" yaml:"max_total_wait"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	LogDir       string `mapstructure:"log_dir" yaml:"log_dir"`
	FileLevel    string `mapstructure:"file_level" yaml:"file_level"`       // debug, info, warn, error
	ConsoleLevel string `mapstructure:"console_level" yaml:"console_level"` // debug, info, warn, error
}

// StorageConfig selects where session history is kept
type StorageConfig struct {
	Driver         string `mapstructure:"driver" yaml:"driver"` // memory or sqlite
	Path           string `mapstructure:"path" yaml:"path,omitempty"`
	TokenCachePath string `mapstructure:"token_cache_path" yaml:"token_cache_path,omitempty"`
}

// AgentConfig configures the chat orchestration consumer
type AgentConfig struct {
	MaxRounds    int    `mapstructure:"max_rounds" yaml:"max_rounds"`
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`

	// Workspace enables the read_file and list_files tools rooted at this directory
	Workspace string `mapstructure:"workspace" yaml:"workspace,omitempty"`

	// PromptsDir holds YAML system prompt templates; ./.llmgate/prompts overrides it when present
	PromptsDir string `mapstructure:"prompts_dir" yaml:"prompts_dir,omitempty"`
}

// GetTimeout returns the provider timeout with a default
func (c *ProviderConfig) GetTimeout() time.Duration {
	if c.Timeout == 0 {
		return 180 * time.Second
	}
	return c.Timeout
}

// GetCapabilities returns configured capabilities or the type's defaults
func (c *ProviderConfig) GetCapabilities() llmtypes.Capabilities {
	if c.Capabilities != nil {
		return *c.Capabilities
	}
	caps := llmtypes.Capabilities{Streaming: true, ToolCalling: true, Vision: true, JSONMode: true}
	if c.Type == ProviderAnthropic || (c.Type == ProviderPassthrough && c.Format == ProviderAnthropic) {
		caps.JSONMode = false
	}
	return caps
}

// GetFormat returns the wire format spoken by the provider
func (c *ProviderConfig) GetFormat() string {
	switch c.Type {
	case ProviderAnthropic:
		return ProviderAnthropic
	case ProviderPassthrough:
		if c.Format != "" {
			return c.Format
		}
	}
	return ProviderOpenAI
}
