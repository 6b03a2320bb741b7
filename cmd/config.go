package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/llmgate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage llmgate configuration",
	}

	var (
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter configuration",
		Long: `Write a starter llmgate.yaml with one OpenAI and one Anthropic provider.
API keys are referenced as ${OPENAI_API_KEY} and ${ANTHROPIC_API_KEY} and
expanded from the environment (or a .env file) at load time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefaultConfig(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&path, "output", "o", config.ProjectConfigFile, "Destination file")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(newConfigCmd())
}
