package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/user/llmgate/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. LLMGATE_SERVER_ADDR
const EnvPrefix = "LLMGATE"

// ProjectConfigFile is looked up in the working directory
const ProjectConfigFile = "llmgate.yaml"

// GlobalConfigFile is looked up in the user's home directory
const GlobalConfigFile = ".llmgate.yaml"

// Loader handles loading configuration from multiple sources
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Loader{v: v}
}

// Load reads the gateway configuration.
// Precedence: CLI > LLMGATE_* env > configPath (or ./llmgate.yaml) > ~/.llmgate.yaml > defaults.
// An explicit configPath must exist; the implicit files are optional.
func (l *Loader) Load(configPath string, cliOverrides map[string]interface{}) (*GatewayConfig, error) {
	if err := l.loadGlobalConfig(); err != nil {
		return nil, err
	}
	if err := l.loadProjectConfig(configPath); err != nil {
		return nil, err
	}
	l.applyCLIOverrides(cliOverrides)

	cfg := &GatewayConfig{}
	if err := decode(l.v.AllSettings(), cfg); err != nil {
		return nil, errors.NewConfigFileError(l.v.ConfigFileUsed(), err)
	}

	applyProviderDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is a convenience wrapper around NewLoader().Load
func Load(configPath string, cliOverrides map[string]interface{}) (*GatewayConfig, error) {
	return NewLoader().Load(configPath, cliOverrides)
}

// loadGlobalConfig loads configuration from ~/.llmgate.yaml
func (l *Loader) loadGlobalConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	globalConfig := filepath.Join(homeDir, GlobalConfigFile)
	if _, err := os.Stat(globalConfig); err != nil {
		return nil
	}

	l.v.SetConfigFile(globalConfig)
	if err := l.v.ReadInConfig(); err != nil {
		return errors.NewConfigFileError(globalConfig, err)
	}
	return nil
}

// loadProjectConfig merges the project file over the global one
func (l *Loader) loadProjectConfig(configPath string) error {
	explicit := configPath != ""
	if !explicit {
		configPath = ProjectConfigFile
	}

	if _, err := os.Stat(configPath); err != nil {
		if explicit {
			return errors.NewConfigFileError(configPath, err)
		}
		return nil
	}

	l.v.SetConfigFile(configPath)
	if err := l.v.MergeInConfig(); err != nil {
		return errors.NewConfigFileError(configPath, err)
	}
	return nil
}

// applyCLIOverrides applies CLI flag overrides
func (l *Loader) applyCLIOverrides(overrides map[string]interface{}) {
	for key, value := range overrides {
		if value != nil {
			l.v.Set(key, value)
		}
	}
}

var defaultSettings = map[string]interface{}{
	"server.addr":                "127.0.0.1:8080",
	"server.send_queue":          256,
	"server.max_message_size":    1 << 20,
	"server.ping_interval":       "30s",
	"server.pong_wait":           "60s",
	"server.write_wait":          "10s",
	"server.shutdown_timeout":    "10s",
	"server.auth_token":          "",
	"retry.max_attempts":         5,
	"retry.multiplier":           1,
	"retry.max_wait_per_attempt": "60s",
	"retry.max_total_wait":       "300s",
	"logging.log_dir":            ".llmgate/logs",
	"logging.file_level":         "info",
	"logging.console_level":      "info",
	"storage.driver":             StorageMemory,
	"storage.path":               ".llmgate/history.db",
	"storage.token_cache_path":   ".llmgate/tokens.json",
	"agent.max_rounds":           5,
	"agent.workspace":            "",
	"agent.prompts_dir":          "",
}

// setDefaults registers defaults with viper so LLMGATE_* variables can override them
func setDefaults(v *viper.Viper) {
	for key, value := range defaultSettings {
		v.SetDefault(key, value)
	}
}

// decode maps viper settings onto cfg, expanding ${VAR} references and parsing durations
func decode(settings map[string]interface{}, cfg *GatewayConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			expandEnvHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("failed to decode gateway config: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references with environment values. Unset variables expand to "".
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
}

func expandEnvHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		return ExpandEnv(data.(string)), nil
	}
}

// applyProviderDefaults fills per-type defaults and environment fallbacks
func applyProviderDefaults(cfg *GatewayConfig) {
	for id, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = ProviderOpenAI
		}

		switch p.Type {
		case ProviderOpenAI:
			if p.BaseURL == "" {
				p.BaseURL = "https://api.openai.com/v1"
			}
			if p.Model == "" {
				p.Model = "gpt-4o"
			}
		case ProviderAnthropic:
			if p.BaseURL == "" {
				p.BaseURL = "https://api.anthropic.com"
			}
			if p.Model == "" {
				p.Model = "claude-sonnet-4-20250514"
			}
			if p.MaxTokens == 0 {
				p.MaxTokens = 4096
			}
		}

		if p.Auth.Type == "" {
			switch {
			case p.Auth.Token != "":
				p.Auth.Type = AuthBearer
			case p.Auth.DeviceCode.ClientID != "":
				p.Auth.Type = AuthDeviceCode
			case p.Type == ProviderPassthrough:
				p.Auth.Type = AuthNone
			case p.Type == ProviderOpenAICompatible && p.Auth.APIKey == "" && providerEnvKey(id, p) == "":
				p.Auth.Type = AuthNone
			default:
				p.Auth.Type = AuthAPIKey
			}
		}
		if p.Auth.Type == AuthAPIKey && p.Auth.APIKey == "" {
			p.Auth.APIKey = providerEnvKey(id, p)
		}

		cfg.Providers[id] = p
	}

	if cfg.DefaultProvider == "" && len(cfg.Providers) > 0 {
		cfg.DefaultProvider = cfg.ProviderIDs()[0]
	}
}

// providerEnvKey looks up LLMGATE_PROVIDERS_<ID>_API_KEY, then the vendor's conventional variable
func providerEnvKey(id string, p ProviderConfig) string {
	if v := os.Getenv(ProviderAPIKeyEnv(id)); v != "" {
		return v
	}
	switch p.Type {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

// ProviderAPIKeyEnv returns the environment variable holding a provider's key
func ProviderAPIKeyEnv(id string) string {
	id = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
	return EnvPrefix + "_PROVIDERS_" + id + "_API_KEY"
}

// ProviderIDs returns the configured provider ids in sorted order
func (c *GatewayConfig) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the configuration for missing or invalid settings
func (c *GatewayConfig) Validate() error {
	if len(c.Providers) == 0 {
		return errors.NewConfigurationError("no providers configured; add a providers section to " + ProjectConfigFile)
	}

	for _, id := range c.ProviderIDs() {
		if err := validateProvider(id, c.Providers[id]); err != nil {
			return err
		}
	}

	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return errors.NewInvalidEnvVarError(EnvPrefix+"_DEFAULT_PROVIDER", c.DefaultProvider, "Must name a configured provider")
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSqlite:
		if c.Storage.Path == "" {
			return errors.NewMissingEnvVarError(EnvPrefix+"_STORAGE_PATH", "Path of the sqlite history database")
		}
	default:
		return errors.NewInvalidEnvVarError(EnvPrefix+"_STORAGE_DRIVER", c.Storage.Driver, "Must be one of: memory, sqlite")
	}

	if c.Agent.MaxRounds < 1 {
		return errors.NewInvalidEnvVarError(EnvPrefix+"_AGENT_MAX_ROUNDS", fmt.Sprint(c.Agent.MaxRounds), "Must be at least 1")
	}
	return nil
}

func validateProvider(id string, p ProviderConfig) error {
	prefix := EnvPrefix + "_PROVIDERS_" + strings.ToUpper(id)

	switch p.Type {
	case ProviderOpenAI, ProviderAnthropic:
	case ProviderOpenAICompatible, ProviderPassthrough:
		if p.BaseURL == "" {
			return errors.NewMissingEnvVarError(prefix+"_BASE_URL", fmt.Sprintf("Base URL for %s provider %q", p.Type, id))
		}
	default:
		return errors.NewInvalidEnvVarError(prefix+"_TYPE", p.Type, "Must be one of: openai, anthropic, openai_compatible, passthrough")
	}

	if p.Type == ProviderPassthrough && p.Format != "" && p.Format != ProviderOpenAI && p.Format != ProviderAnthropic {
		return errors.NewInvalidEnvVarError(prefix+"_FORMAT", p.Format, "Must be one of: openai, anthropic")
	}

	switch p.Auth.Type {
	case AuthAPIKey:
		if p.Auth.APIKey == "" {
			return errors.NewMissingEnvVarError(ProviderAPIKeyEnv(id), fmt.Sprintf("API key for provider %q", id))
		}
	case AuthBearer:
		if p.Auth.Token == "" {
			return errors.NewMissingEnvVarError(prefix+"_AUTH_TOKEN", fmt.Sprintf("Bearer token for provider %q", id))
		}
	case AuthDeviceCode:
		dc := p.Auth.DeviceCode
		if dc.ClientID == "" || dc.DeviceURL == "" || dc.TokenURL == "" {
			return errors.NewConfigurationError(fmt.Sprintf("provider %q: device_code auth needs client_id, device_url and token_url", id))
		}
	case AuthNone:
	default:
		return errors.NewInvalidEnvVarError(prefix+"_AUTH_TYPE", p.Auth.Type, "Must be one of: api_key, bearer, none, device_code")
	}
	return nil
}

// GetEnvVar gets an environment variable, returning an error if not set
func GetEnvVar(name, description string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", errors.NewMissingEnvVarError(name, description)
	}
	return value, nil
}

// GetEnvVarOrDefault gets an environment variable with a default value
func GetEnvVarOrDefault(name, defaultValue string) string {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	return value
}
