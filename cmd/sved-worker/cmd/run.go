package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/urban-engineer/sved/internal/version"
	"github.com/urban-engineer/sved/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the worker agent",
	Long: `Start the worker agent and process tasks until interrupted.

The agent holds a single consumer on the task queue with prefetch 1 and
acknowledges each message only after its work directory has been cleaned
up, so an interrupted task is redelivered to another worker.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("workdir", "", "scratch directory for staged files and encodes")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("workdir") {
		cfg.Paths.WorkDir, _ = cmd.Flags().GetString("workdir")
	}

	if err := cfg.ValidateBroker(); err != nil {
		return err
	}
	if err := cfg.ValidateWorkDir(); err != nil {
		return err
	}

	logger := initLogging(cfg)
	logger.Info("starting sved worker",
		slog.String("version", version.Version),
		slog.String("worker", worker.Hostname()),
		slog.String("workdir", cfg.Paths.WorkDir),
	)

	agent, err := worker.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("building worker agent: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("worker stopped")
	return nil
}
