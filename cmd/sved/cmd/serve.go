package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/config"
	"github.com/urban-engineer/sved/internal/database"
	"github.com/urban-engineer/sved/internal/ffmpeg"
	internalhttp "github.com/urban-engineer/sved/internal/http"
	"github.com/urban-engineer/sved/internal/http/handlers"
	"github.com/urban-engineer/sved/internal/ingest"
	"github.com/urban-engineer/sved/internal/metrics"
	"github.com/urban-engineer/sved/internal/repository"
	"github.com/urban-engineer/sved/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sved coordinator",
	Long: `Start the sved coordinator HTTP server.

The coordinator provides:
- REST API for encode tasks, metric tasks, profiles, and ingest
- Streaming file routes for worker downloads and uploads
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("input", "", "input media directory")
	serveCmd.Flags().String("output", "", "encoded output directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	if err := cfg.ValidateBroker(); err != nil {
		return err
	}

	logger := initLogging(cfg, "coordinator")
	logger.Info("starting sved coordinator",
		slog.String("version", version.Version),
		slog.String("input", cfg.Paths.Input),
		slog.String("output", cfg.Paths.Output),
	)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	files := repository.NewFileRepository(db.DB)
	profiles := repository.NewProfileRepository(db.DB)
	encodeTasks := repository.NewEncodeTaskRepository(db.DB)
	metricTasks := repository.NewMetricTaskRepository(db.DB)
	pooled := repository.NewPooledMetricRepository(db.DB)

	publisher := broker.New(cfg.RabbitMQ, logger)
	prober := ffmpeg.NewProber("")
	propedit := ffmpeg.NewPropedit("")

	scanner := ingest.NewScanner(
		files, encodeTasks, prober, propedit,
		cfg.Paths.Input, cfg.Paths.Output,
		cfg.Ingest.MaxConcurrentProbes, logger,
	)
	schedule, err := ingest.NewSchedule(cfg.Ingest.ScanSchedule, scanner, logger)
	if err != nil {
		return err
	}
	if schedule != nil {
		schedule.Start()
		defer schedule.Stop()
	}

	aggregator := metrics.NewAggregator(pooled, logger)
	baseURL := cfg.Server.BaseURL()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	handlers.NewHealthHandler(version.Version, db.DB).Register(server.API())
	handlers.NewProfileHandler(profiles, logger).Register(server.API())
	handlers.NewEncodeTaskHandler(encodeTasks, baseURL, logger).Register(server.API())
	handlers.NewMetricTaskHandler(metricTasks, files, pooled, publisher, baseURL, logger).Register(server.API())
	handlers.NewIngestHandler(
		scanner, files, encodeTasks, profiles, publisher,
		cfg.Paths.Input, cfg.Paths.Output, baseURL, logger,
	).Register(server.API())

	handlers.NewEncodeFileHandler(
		encodeTasks, files, publisher, prober, propedit,
		cfg.Paths.Output, baseURL, cfg.Flags.AutoDelete, logger,
	).Register(server.Router())
	handlers.NewMetricFileHandler(metricTasks, aggregator, publisher, baseURL, logger).Register(server.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pick up anything already sitting in the input tree before the first
	// scheduled or request-triggered scan.
	go func() {
		if err := scanner.ScanAll(ctx); err != nil {
			logger.Error("startup scan failed", slog.String("error", err.Error()))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := server.Shutdown(context.Background()); err != nil {
		return err
	}
	return nil
}

// applyServeFlags overrides config values with explicitly set CLI flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("input") {
		cfg.Paths.Input, _ = cmd.Flags().GetString("input")
	}
	if cmd.Flags().Changed("output") {
		cfg.Paths.Output, _ = cmd.Flags().GetString("output")
	}
}
