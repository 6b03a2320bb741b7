package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/llmgate/internal/auth"
	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llm"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Authorize a device_code provider",
		Long: `Run the OAuth device authorization flow for a provider configured with
auth.type: device_code. The code and verification URL are printed; open the
URL in any browser and enter the code. The token is stored in the token
cache and refreshed by the gateway as needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, args[0])
		},
	}
	return cmd
}

func init() {
	rootCmd.AddCommand(newLoginCmd())
}

func runLogin(cmd *cobra.Command, providerID string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	pcfg, ok := cfg.Providers[providerID]
	if !ok {
		return errors.NewProviderNotFoundError(providerID)
	}
	if pcfg.Auth.Type != config.AuthDeviceCode {
		return errors.NewConfigurationError(fmt.Sprintf("provider %q uses %s auth; login only applies to device_code", providerID, pcfg.Auth.Type))
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
	authenticator, err := llm.NewFactory(cfg.Retry, tokens, logger).CreateAuthenticator(providerID, pcfg)
	if err != nil {
		return err
	}
	device, ok := authenticator.(*auth.DeviceCodeAuth)
	if !ok {
		return errors.NewConfigurationError(fmt.Sprintf("provider %q did not produce a device-code authenticator", providerID))
	}

	tok, err := device.Login(cmd.Context(), printPresenter(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s; token valid until %s\n", providerID, tok.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// printPresenter shows the device code on w
func printPresenter(w io.Writer) auth.Presenter {
	if w == nil {
		w = os.Stdout
	}
	return auth.PresenterFunc(func(_ context.Context, p auth.Prompt) error {
		fmt.Fprintf(w, "To authorize %s, open:\n\n    %s\n\nand enter the code:\n\n    %s\n\n", p.Provider, p.VerificationURL, p.UserCode)
		fmt.Fprintf(w, "Waiting for authorization (expires %s)...\n", p.ExpiresAt.Local().Format(time.Kitchen))
		return nil
	})
}
