package broker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/urban-engineer/sved/internal/config"
)

// Publisher is the coordinator-side broker surface: queue an envelope for
// some worker to pick up.
type Publisher interface {
	Publish(ctx context.Context, envelope Envelope) error
}

// Client connects to RabbitMQ and declares the task queue. The publisher
// dials per publish; publishes are rare (task creation and requeue) and a
// fresh connection avoids nursing a long-lived channel through broker
// restarts.
type Client struct {
	url    string
	queue  string
	logger *slog.Logger
}

// New creates a broker client from configuration.
func New(cfg config.RabbitMQConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    cfg.AMQPURL(),
		queue:  cfg.Queue,
		logger: logger,
	}
}

// declareQueue declares the durable task queue on the given channel.
// Declaration is idempotent; both sides declare so startup order is free.
func (c *Client) declareQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declaring queue %q: %w", c.queue, err)
	}
	return nil
}

// Publish sends a persistent envelope to the task queue.
func (c *Client) Publish(ctx context.Context, envelope Envelope) error {
	body, err := envelope.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := c.declareQueue(ch); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		c.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing envelope: %w", err)
	}

	c.logger.Info("envelope published",
		slog.String("task_type", string(envelope.Type)),
		slog.Uint64("task_id", uint64(envelope.ID)),
	)
	return nil
}

// Consumer holds a long-lived consuming connection with prefetch=1.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *slog.Logger
}

// Consume opens a consuming connection. The returned Consumer owns the
// connection; call Close when done.
func (c *Client) Consume() (*Consumer, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := c.declareQueue(ch); err != nil {
		conn.Close()
		return nil, err
	}

	// At most one unacknowledged message per worker: the broker holds the
	// next message until this one is acked or the connection dies.
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}

	return &Consumer{
		conn:   conn,
		ch:     ch,
		queue:  c.queue,
		logger: c.logger,
	}, nil
}

// Deliveries starts consumption and returns the delivery channel. The
// channel closes when the connection drops.
func (c *Consumer) Deliveries(consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(
		c.queue,
		consumerTag,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("starting consumer: %w", err)
	}
	return deliveries, nil
}

// IsClosed reports whether the underlying connection has died. The worker's
// subprocess supervisor polls this so a long encode fails fast (and the
// message is redelivered) instead of acking into a dead connection later.
func (c *Consumer) IsClosed() bool {
	return c.conn.IsClosed()
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
