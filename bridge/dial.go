package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	retryBase   = time.Second
	retryCap    = 30 * time.Second
	retryJitter = 0.2
)

// DialWithRetry connects to url, retrying with jittered exponential backoff
// until it succeeds or ctx is done.
func DialWithRetry(ctx context.Context, url string, logger *slog.Logger) (*amqp.Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return dialWithRetry(ctx, url, amqp.Dial, retryBase, logger.With("component", "broker"))
}

func dialWithRetry(ctx context.Context, url string, dial func(string) (*amqp.Connection, error), base time.Duration, logger *slog.Logger) (*amqp.Connection, error) {
	if url == "" {
		return nil, errors.New("broker url is required")
	}
	for attempt := 0; ; attempt++ {
		conn, err := dial(url)
		if err == nil {
			if attempt > 0 {
				logger.Info("broker connected", "attempts", attempt+1)
			}
			return conn, nil
		}

		delay := jitteredDelay(base, attempt, retryCap, retryJitter)
		logger.Warn("broker dial failed", "attempt", attempt+1, "retry_in", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial broker: %w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// jitteredDelay doubles base per attempt up to limit and spreads the result by
// plus or minus jitter.
func jitteredDelay(base time.Duration, attempt int, limit time.Duration, jitter float64) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	if jitter <= 0 {
		return delay
	}
	spread := float64(delay) * jitter
	return delay + time.Duration((rand.Float64()*2-1)*spread)
}
