package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/config"
	"github.com/urban-engineer/sved/internal/ffmpeg"
	"github.com/urban-engineer/sved/internal/observability"
)

// Agent is the worker process: one consuming connection, one task at a time.
type Agent struct {
	broker          *broker.Client
	client          *Client
	encodes         *EncodeRunner
	metrics         *MetricRunner
	workDir         string
	heartbeatPeriod time.Duration
	retryDelay      time.Duration
	logger          *slog.Logger
}

// New builds a worker agent from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "worker")

	workDir, err := filepath.Abs(cfg.Paths.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolving work directory: %w", err)
	}

	client := NewClient(cfg.Worker, workDir, logger)
	fileProber := ffmpeg.NewProber("")
	propedit := ffmpeg.NewPropedit("")

	return &Agent{
		broker:          broker.New(cfg.RabbitMQ, logger),
		client:          client,
		encodes:         NewEncodeRunner(client, fileProber, propedit, "", workDir, logger),
		metrics:         NewMetricRunner(client, fileProber, "", workDir, logger),
		workDir:         workDir,
		heartbeatPeriod: cfg.Worker.HeartbeatPeriod,
		retryDelay:      cfg.Worker.RetryDelay,
		logger:          logger,
	}, nil
}

// Run consumes tasks until the context is cancelled, reconnecting to the
// broker with the retry delay whenever the connection drops.
func (a *Agent) Run(ctx context.Context) error {
	for {
		consumer, err := a.broker.Consume()
		if err != nil {
			a.logger.Warn("could not connect to broker, retrying",
				slog.Duration("delay", a.retryDelay),
				slog.String("error", err.Error()),
			)
		} else {
			a.consume(ctx, consumer)
			consumer.Close()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-time.After(a.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume drains deliveries from one connection until it dies or the context
// is cancelled.
func (a *Agent) consume(ctx context.Context, consumer *broker.Consumer) {
	deliveries, err := consumer.Deliveries(a.client.WorkerID())
	if err != nil {
		a.logger.Warn("could not start consuming", slog.String("error", err.Error()))
		return
	}

	a.logger.Info("ready to receive work", slog.String("worker", a.client.WorkerID()))

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				a.logger.Warn("broker connection lost")
				return
			}
			a.handle(ctx, consumer, delivery)
		}
	}
}

// handle processes one delivery. Unparseable envelopes are acked away as
// poison; a task failure returns the message to the queue and backs off so a
// broken task does not spin through redelivery.
func (a *Agent) handle(ctx context.Context, live liveness, delivery amqp.Delivery) {
	envelope, err := broker.ParseEnvelope(delivery.Body)
	if err != nil {
		a.logger.Error("discarding unusable message", slog.String("error", err.Error()))
		if ackErr := delivery.Ack(false); ackErr != nil {
			a.logger.Warn("ack failed", slog.String("error", ackErr.Error()))
		}
		return
	}

	logger := observability.WithTask(a.logger, string(envelope.Type), envelope.ID)
	logger.Info("task pulled from queue, beginning processing")

	if err := a.process(ctx, live, envelope); err != nil {
		logger.Error("task failed, returning message to queue", slog.String("error", err.Error()))
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			logger.Warn("nack failed", slog.String("error", nackErr.Error()))
		}
		select {
		case <-time.After(a.retryDelay):
		case <-ctx.Done():
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		logger.Warn("ack failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("task processed, waiting for new tasks")
}

// process runs the full per-message contract: claim, stage, run, upload,
// clean up. The work directory is removed only on success, right before the
// caller acks.
func (a *Agent) process(ctx context.Context, live liveness, envelope broker.Envelope) error {
	if err := os.MkdirAll(a.workDir, 0o755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}

	run := &supervisor{liveness: live, period: a.heartbeatPeriod}

	switch envelope.Type {
	case broker.TaskTypeEncode:
		var task EncodeTask
		if err := a.client.Claim(ctx, envelope.URL, &task); err != nil {
			return err
		}
		if err := a.encodes.Process(ctx, run, &task, envelope.URL); err != nil {
			return err
		}
	case broker.TaskTypeMetrics:
		var task MetricTask
		if err := a.client.Claim(ctx, envelope.URL, &task); err != nil {
			return err
		}
		if err := a.metrics.Process(ctx, run, &task, envelope.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", broker.ErrUnknownTaskType, string(envelope.Type))
	}

	if err := os.RemoveAll(a.workDir); err != nil {
		return fmt.Errorf("removing work directory: %w", err)
	}
	return nil
}
