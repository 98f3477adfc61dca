// Command flowmap analyzes workflow maps and serves them to agents over MCP.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/flowmap/internal/logging"
)

var (
	cfg    Config
	logger *slog.Logger

	flagDBPath   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "flowmap",
	Short:         "Dependency analysis and status tracking for workflow maps",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = applyFlags(cmd, loadConfig())
		logger = logging.New(os.Stderr, cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db-path", "", "database path (default: ~/.flowmap/flowmap.db)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// applyFlags layers explicitly set persistent flags over c.
func applyFlags(cmd *cobra.Command, c Config) Config {
	if cmd.Flags().Changed("db-path") {
		c.DBPath = flagDBPath
	}
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	return c
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
