package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. A nil error acks the delivery, an
// error wrapped with Permanent drops it, any other error requeues it.
type Handler func(ctx context.Context, body []byte) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// ConsumerConfig describes the queue an event consumer reads.
type ConsumerConfig struct {
	Exchange   string
	Queue      string
	BindingKey string
	Workers    int
	Prefetch   int
}

// Consumer reads engine events from a durable queue bound to a topic
// exchange and hands them to a pool of workers.
type Consumer struct {
	conn    *amqp.Connection
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger
}

// NewConsumer validates cfg and returns a consumer. Run starts it.
func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("amqp connection is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.Exchange == "" || cfg.Queue == "" {
		return nil, errors.New("exchange and queue are required")
	}
	if cfg.BindingKey == "" {
		cfg.BindingKey = EventBindingKey
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch < cfg.Workers {
		cfg.Prefetch = cfg.Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "consumer", "queue", cfg.Queue),
	}, nil
}

// Run declares the topology and consumes until ctx is cancelled or the
// broker closes the delivery channel.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", c.cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", c.cfg.Queue, err)
	}
	if err := ch.QueueBind(q.Name, c.cfg.BindingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %q to %q: %w", q.Name, c.cfg.BindingKey, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", q.Name, err)
	}

	c.logger.Info("consuming", "binding", c.cfg.BindingKey, "workers", c.cfg.Workers)
	return c.serve(ctx, deliveries)
}

func (c *Consumer) serve(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	var wg sync.WaitGroup
	for range c.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.handle(ctx, d)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("delivery channel closed")
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	err := c.handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Warn("ack failed", "message_id", d.MessageId, "error", ackErr)
		}
	case IsPermanent(err):
		c.logger.Warn("dropping delivery", "message_id", d.MessageId, "key", d.RoutingKey, "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Warn("nack failed", "message_id", d.MessageId, "error", nackErr)
		}
	default:
		c.logger.Warn("requeueing delivery", "message_id", d.MessageId, "key", d.RoutingKey, "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Warn("nack failed", "message_id", d.MessageId, "error", nackErr)
		}
	}
}
