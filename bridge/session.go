package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errSessionClosed = errors.New("broker session closed")

// connection is the part of an AMQP connection a session uses.
type connection interface {
	channel() (publishChannel, error)
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) channel() (publishChannel, error) {
	ch, err := c.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Session owns the publishing connection. A connection the broker dropped is
// replaced on the next Channel call.
type Session struct {
	exchange string
	logger   *slog.Logger
	dial     func(ctx context.Context) (connection, error)

	mu     sync.Mutex
	conn   connection
	closed bool
}

// NewSession connects to url, declares the topic exchange and returns a
// session that redials with the same backoff when the connection drops.
func NewSession(ctx context.Context, url, exchange string, logger *slog.Logger) (*Session, error) {
	if exchange == "" {
		return nil, errors.New("exchange is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "broker")

	s := newSession(exchange, logger, func(ctx context.Context) (connection, error) {
		conn, err := dialWithRetry(ctx, url, amqp.Dial, retryBase, logger)
		if err != nil {
			return nil, err
		}
		if err := declareExchange(conn, exchange); err != nil {
			conn.Close()
			return nil, err
		}
		return amqpConnection{conn}, nil
	})
	if _, err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(exchange string, logger *slog.Logger, dial func(context.Context) (connection, error)) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{exchange: exchange, logger: logger, dial: dial}
}

func declareExchange(conn *amqp.Connection, exchange string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return nil
}

// Exchange returns the exchange the session declared.
func (s *Session) Exchange() string { return s.exchange }

// Channel opens a channel on the live connection, redialing first when the
// previous connection was closed.
func (s *Session) Channel(ctx context.Context) (publishChannel, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	return conn.channel()
}

func (s *Session) connect(ctx context.Context) (connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSessionClosed
	}
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	if s.conn != nil {
		s.logger.Warn("broker connection lost, redialing")
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// Close shuts the connection down. Later Channel calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}
