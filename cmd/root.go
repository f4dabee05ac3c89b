// Package cmd defines the CLI commands for the collector executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "A concurrent web content collector.",
		Long: `collector fetches batches of URLs concurrently, follows their outbound
links to a configured depth, and persists page content and lineage for
downstream analysis.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus COLLECTOR_ env vars)")

	cmd.AddCommand(newCollectCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
