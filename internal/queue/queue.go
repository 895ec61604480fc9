package queue

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"campusflow/internal/logging"
	"campusflow/internal/metrics"
)

// Defaults applied by Publish when a message leaves them unset.
const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 2 * time.Second
)

// Message represents work to be processed.
type Message struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Body        []byte        `json:"body"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
	LastError   string        `json:"last_error,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	// Publish enqueues msg. It returns false without error when a message with the
	// same ID is still queued, in flight or waiting for retry.
	Publish(ctx context.Context, msg Message) (bool, error)
	Consume(ctx context.Context) (<-chan Message, error)
	// Complete releases the message ID.
	Complete(ctx context.Context, msg Message) error
	// Fail schedules a retry or moves the message to the dead set, reporting which.
	Fail(ctx context.Context, msg Message, cause error) (dead bool, err error)
	Dead(ctx context.Context) ([]Message, error)
}

// ErrPermanent marks a failure that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so Fail dead-letters immediately.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

func withDefaults(msg Message, now time.Time) Message {
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = DefaultMaxAttempts
	}
	if msg.Backoff <= 0 {
		msg.Backoff = DefaultBackoff
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = now
	}
	return msg
}

// RetryDelay is the wait before the next attempt: backoff * 2^(attempts-1).
func RetryDelay(backoff time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		attempts = 20
	}
	return backoff * time.Duration(1<<(attempts-1))
}

// recordFailure bumps attempts and reports whether the message is exhausted.
func recordFailure(msg Message, cause error) (Message, bool) {
	msg.Attempts++
	if cause != nil {
		msg.LastError = cause.Error()
	}
	dead := msg.Attempts >= msg.MaxAttempts || errors.Is(cause, ErrPermanent)
	if dead {
		metrics.QueueDead.WithLabelValues(msg.Type).Inc()
	}
	return msg, dead
}

// Handler processes one message. A nil return completes it.
type Handler func(ctx context.Context, msg Message) error

// Worker consumes a queue with a fixed number of goroutines.
type Worker struct {
	Queue       Queue
	Handler     Handler
	Concurrency int
}

// Run blocks until ctx is cancelled and the consume channel drains.
func (w *Worker) Run(ctx context.Context) error {
	n := w.Concurrency
	if n <= 0 {
		n = 8
	}
	msgs, err := w.Queue.Consume(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for msg := range msgs {
				w.process(gctx, msg)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) process(ctx context.Context, msg Message) {
	// Finishing bookkeeping must survive shutdown cancellation.
	bg := context.WithoutCancel(ctx)
	if err := w.Handler(ctx, msg); err != nil {
		dead, ferr := w.Queue.Fail(bg, msg, err)
		if ferr != nil {
			logging.Error().Err(ferr).Str("job_id", msg.ID).Msg("failed to reschedule job")
			return
		}
		evt := logging.Warn()
		if dead {
			evt = logging.Error()
		}
		evt.Err(err).Str("job_id", msg.ID).Str("type", msg.Type).Int("attempt", msg.Attempts+1).Bool("dead", dead).Msg("job failed")
		return
	}
	if err := w.Queue.Complete(bg, msg); err != nil {
		logging.Error().Err(err).Str("job_id", msg.ID).Msg("failed to complete job")
	}
}
