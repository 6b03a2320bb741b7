package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/llmgate/internal/agent"
	"github.com/user/llmgate/internal/bus"
	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/gateway"
	"github.com/user/llmgate/internal/llm"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/prompts"
	"github.com/user/llmgate/internal/session"
	"github.com/user/llmgate/internal/tools"
)

type serveOptions struct {
	addr      string
	storage   string
	workspace string
	provider  string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		Long: `Start the gateway and accept websocket clients on /ws.

Providers, storage and agent settings come from llmgate.yaml, LLMGATE_*
environment variables and the flags below, in that order of increasing
priority. SIGINT or SIGTERM closes client sessions gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.storage, "storage", "", "History storage driver: memory or sqlite")
	cmd.Flags().StringVar(&opts.workspace, "workspace", "", "Directory exposed to the model through file tools")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Default provider id")

	return cmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func (o *serveOptions) overrides() map[string]interface{} {
	overrides := map[string]interface{}{}
	if o.addr != "" {
		overrides["server.addr"] = o.addr
	}
	if o.storage != "" {
		overrides["storage.driver"] = o.storage
	}
	if o.workspace != "" {
		overrides["agent.workspace"] = o.workspace
	}
	if o.provider != "" {
		overrides["default_provider"] = o.provider
	}
	return overrides
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := loadConfig(opts.overrides())
	if err != nil {
		return err
	}

	logger, err := InitLogger(cfg.Logging, debugFlag, verboseFlag)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tokens, err := openTokenCache(cfg.Storage)
	if err != nil {
		return err
	}
	history, closeHistory, err := openHistoryStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = closeHistory() }()

	registry, err := llm.NewRegistryFromConfig(cfg, tokens, logger.Named("llm"))
	if err != nil {
		return err
	}

	agentOpts, err := agentOptions(cfg.Agent)
	if err != nil {
		return err
	}

	sessions := session.NewManager(history, logger.Named("session"))
	defer sessions.Close()

	b := bus.New(logger.Named("bus"))
	runner := agent.NewRunner(agent.Config{
		MaxRounds:    cfg.Agent.MaxRounds,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Provider:     cfg.DefaultProvider,
		Workspace:    cfg.Agent.Workspace,
	}, b, sessions, registry, logger, agentOpts...)
	stopRunner := runner.Start()
	defer stopRunner()

	srv := gateway.NewServer(cfg.Server, sessions, b, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting llmgate",
		logging.String("addr", cfg.Server.Addr),
		logging.String("storage", cfg.Storage.Driver),
		logging.String("default_provider", cfg.DefaultProvider),
		logging.Int("providers", len(cfg.Providers)))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// Stop generations while the session table can still record their partial output.
	for _, info := range sessions.List() {
		if info.Generating {
			sessions.Cancel(info.ID)
		}
	}
	runner.Wait()
	return err
}

// projectPromptsDir overrides templates from agent.prompts_dir when it exists
const projectPromptsDir = ".llmgate/prompts"

// agentOptions wires the workspace file tools and prompt templates that are configured
func agentOptions(cfg config.AgentConfig) ([]agent.Option, error) {
	var opts []agent.Option

	if cfg.Workspace != "" {
		ws, err := tools.NewWorkspace(cfg.Workspace)
		if err != nil {
			return nil, err
		}
		reg, err := tools.NewRegistry(ws.Tools()...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithTools(reg, reg))
	}

	if cfg.PromptsDir != "" {
		pm, err := prompts.NewManagerWithOverrides(cfg.PromptsDir, projectPromptsDir)
		if err != nil {
			return nil, errors.WrapError(err, errors.KindConfig, "failed to load prompt templates", errors.ExitConfigError)
		}
		opts = append(opts, agent.WithPrompts(pm))
	}
	return opts, nil
}
