package cmd

import (
	"fmt"
	"io"

	"github.com/user/llmgate/internal/auth"
	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/store"
)

// InitLogger creates the logger for a command from the logging section.
// Console output is enabled by verbose; debug lowers both levels and adds caller info.
// The caller is responsible for calling logger.Sync() when done.
func InitLogger(cfg config.LoggingConfig, debug, verbose bool) (*logging.Logger, error) {
	logCfg := &logging.Config{
		LogDir:         cfg.LogDir,
		FileLevel:      logging.LevelFromString(cfg.FileLevel),
		ConsoleLevel:   logging.LevelFromString(cfg.ConsoleLevel),
		EnableCaller:   debug,
		ConsoleEnabled: verbose,
	}
	if debug {
		logCfg.FileLevel = logging.LevelFromString("debug")
		logCfg.ConsoleLevel = logging.LevelFromString("debug")
	}

	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// loadConfig reads configuration honouring --config and the given overrides
func loadConfig(overrides map[string]interface{}) (*config.GatewayConfig, error) {
	return config.Load(configFlag, overrides)
}

// openHistoryStore returns the configured session history backend and its closer
func openHistoryStore(cfg config.StorageConfig) (store.HistoryStore, func() error, error) {
	switch cfg.Driver {
	case config.StorageSqlite:
		s, err := store.OpenSqlite(cfg.Path)
		if err != nil {
			return nil, nil, errors.WrapError(err, errors.KindConfig, "failed to open history database "+cfg.Path, errors.ExitIOError)
		}
		return s, s.Close, nil
	default:
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
}

// openTokenCache returns the device-code token cache, persisted when a path is configured
func openTokenCache(cfg config.StorageConfig) (*auth.TokenCache, error) {
	if cfg.TokenCachePath == "" {
		return auth.NewTokenCache(auth.DefaultSafetyMargin), nil
	}
	tokens, err := auth.NewFileTokenCache(cfg.TokenCachePath, auth.DefaultSafetyMargin)
	if err != nil {
		return nil, errors.WrapError(err, errors.KindAuth, "failed to load token cache "+cfg.TokenCachePath, errors.ExitIOError)
	}
	return tokens, nil
}

// printCommandError writes the user-facing form of err
func printCommandError(w io.Writer, err error) {
	var friendly interface{ GetUserMessage() string }
	if errors.As(err, &friendly) {
		fmt.Fprintln(w, friendly.GetUserMessage())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
