package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagConfigPath string

var rootCmd = &cobra.Command{
	Use:          "simsearch",
	Short:        "Semantic similarity search over catalog records",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `simsearch embeds the free-text description of every catalog record,
keeps an in-memory similarity index fresh, and answers "which records
are most similar to this text" over HTTP, MCP or stdio.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to the YAML config file (default: $SIMSEARCH_CONFIG or ./simsearch.yaml)")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
