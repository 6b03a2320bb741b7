package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/user/llmgate/internal/errors"
)

var (
	configFlag  string
	debugFlag   bool
	verboseFlag bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "llmgate",
	Short: "Websocket gateway in front of LLM providers",
	Long: `llmgate exposes OpenAI, Anthropic and compatible providers behind one
streaming websocket protocol.

Clients connect to a session, send chat turns and receive tokens, tool
activity and usage as they happen. Sessions survive reconnects and can be
persisted to sqlite.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the error's exit code
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printCommandError(os.Stderr, err)
		os.Exit(errors.ExitCodeOf(err).Int())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default ./llmgate.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging with caller info")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Mirror log output to the console")
}
