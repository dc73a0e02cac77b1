// Package cmd implements the CLI commands for the sved coordinator.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/urban-engineer/sved/internal/config"
	"github.com/urban-engineer/sved/internal/observability"
	"github.com/urban-engineer/sved/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "sved",
	Short:   "Distributed video encode and quality metrics coordinator",
	Version: version.Short(),
	Long: `sved is the coordinator for a distributed video encoding pipeline.

It scans an input tree for source media, queues encode and quality metric
tasks on RabbitMQ, serves source files to workers over HTTP, receives their
encoded artifacts and VMAF reports, and tracks every task in a database.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// These flags are NOT bound to viper. Loading checks Changed() and only
	// then overrides, preserving the priority:
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/sved, $HOME/.sved)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads the layered configuration and applies CLI logging
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	applyLoggingFlags(rootCmd.PersistentFlags(), cfg)
	return cfg, nil
}

// applyLoggingFlags overrides logging config with explicitly set CLI flags
// and normalizes the values.
func applyLoggingFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
}

// initLogging builds the process logger and installs it as the slog default.
func initLogging(cfg *config.Config, component string) *slog.Logger {
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	logger = observability.WithComponent(logger, component)
	observability.SetDefault(logger)
	return logger
}
