// Package main provides the relaygw-cli command-line tool for managing the
// RelayGateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	llmgateway "github.com/relay-labs/llm-gateway"
	"github.com/relay-labs/llm-gateway/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:           "relaygw-cli",
		Short:         "RelayGateway command line tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(validateCmd(), guardsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := llmgateway.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := llmgateway.ValidateConfig(*cfg); err != nil {
				return err
			}
			fmt.Printf("✓ Config valid: %d provider(s), %d guard(s)\n", len(cfg.Providers), len(cfg.Guards))
			return nil
		},
	}
}

func guardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guards <config-file>",
		Short: "List the guardrails configured in a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := llmgateway.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if len(cfg.Guards) == 0 {
				fmt.Println("No guards configured.")
				return nil
			}
			for _, g := range cfg.Guards {
				fmt.Printf("%-24s %-10s %-8s %s\n", g.Name, g.Type, g.Stage, g.Action)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relaygw-cli", version.Full())
		},
	}
}
