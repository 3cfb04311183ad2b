// Package dispatch moves notifications produced on engine goroutines onto a
// single consumer goroutine owned by the view layer.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"chatroute/models"
)

// View renders notifications. Render is only ever called from the goroutine
// running Queue.Run.
type View interface {
	Render(models.Notification)
}

// ViewFunc adapts a function to View.
type ViewFunc func(models.Notification)

// Render calls f(n).
func (f ViewFunc) Render(n models.Notification) { f(n) }

// Poster accepts notifications without blocking the caller.
type Poster interface {
	Post(models.Notification) bool
}

// Queue is an unbounded FIFO with a single consumer.
type Queue struct {
	view   View
	logger *slog.Logger

	mu      sync.Mutex
	pending []models.Notification
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a queue delivering to view.
func New(view View, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		view:   view,
		logger: logger.With("component", "dispatch"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post enqueues n and returns immediately. It returns false once the queue
// is closed.
func (q *Queue) Post(n models.Notification) bool {
	if n == nil {
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug("notification dropped after close", "kind", n.NotificationKind())
		return false
	}
	q.pending = append(q.pending, n)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of notifications not yet rendered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting notifications. Run drains what is already queued
// and then returns.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Run renders notifications in post order on the calling goroutine until ctx
// is cancelled or the queue is closed and drained.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for _, n := range q.take() {
			q.render(n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		case <-q.done:
			for _, n := range q.take() {
				q.render(n)
			}
			return nil
		}
	}
}

func (q *Queue) take() []models.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	batch := q.pending
	q.pending = nil
	return batch
}

func (q *Queue) render(n models.Notification) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("view panicked while rendering", "kind", n.NotificationKind(), "panic", r)
		}
	}()
	q.view.Render(n)
}
