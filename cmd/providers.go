package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llm"
	"github.com/user/llmgate/internal/llmtypes"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect configured providers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := providerRegistry()
			if err != nil {
				return err
			}
			writeProviderTable(cmd.OutOrStdout(), reg.List(), reg.DefaultID())
			return nil
		},
	})

	var timeout time.Duration
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate credentials and reachability of every provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := providerRegistry()
			if err != nil {
				return err
			}
			results := reg.ValidateAll(cmd.Context(), timeout)
			if failed := writeValidation(cmd.OutOrStdout(), results); failed > 0 {
				return errors.NewError(errors.KindNetwork, fmt.Sprintf("%d of %d providers failed validation", failed, len(results)), errors.ExitLLMError)
			}
			return nil
		},
	}
	check.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Per-provider validation timeout")
	cmd.AddCommand(check)

	return cmd
}

func init() {
	rootCmd.AddCommand(newProvidersCmd())
}

func providerRegistry() (*llm.Registry, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	logger, err := InitLogger(cfg.Logging, debugFlag, verboseFlag)
	if err != nil {
		return nil, err
	}
	tokens, err := openTokenCache(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return llm.NewRegistryFromConfig(cfg, tokens, logger.Named("llm"))
}

func writeProviderTable(w io.Writer, providers []llmtypes.ProviderMetadata, defaultID string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCAPABILITIES\t")
	for _, p := range providers {
		id := p.ID
		if id == defaultID {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", id, p.DisplayName, capabilityList(p.Capabilities))
	}
	_ = tw.Flush()
}

func capabilityList(c llmtypes.Capabilities) string {
	var caps []string
	if c.Streaming {
		caps = append(caps, "streaming")
	}
	if c.ToolCalling {
		caps = append(caps, "tools")
	}
	if c.Vision {
		caps = append(caps, "vision")
	}
	if c.JSONMode {
		caps = append(caps, "json")
	}
	if len(caps) == 0 {
		return "-"
	}
	return strings.Join(caps, ",")
}

// writeValidation prints one line per provider and returns the failure count
func writeValidation(w io.Writer, results []llm.ValidationResult) int {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "FAIL  %-20s %v\n", r.ID, r.Err)
			continue
		}
		fmt.Fprintf(w, "ok    %-20s %s\n", r.ID, r.Duration.Round(time.Millisecond))
	}
	return failed
}
