// Package jobs runs the background consumers: embedding retries and index
// reconciliation. Both queues are at-least-once, so every handler is written
// to be safe under duplicate delivery.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/context8/context8-docker/internal/queue"
)

// Handler processes one job. A returned error means the job should be
// retried (subject to the retry budget); nil means done.
type Handler interface {
	Name() string
	Handle(ctx context.Context, job queue.Job) error
}

// Source is the queue surface a consumer needs.
type Source interface {
	Name() string
	Dequeue(ctx context.Context, wait time.Duration) (*queue.Job, error)
	EnqueueIn(ctx context.Context, job queue.Job, delay time.Duration) error
}

// Consumer drains one queue into one handler with bounded, backed-off
// retries.
type Consumer struct {
	source     Source
	handler    Handler
	maxRetries int
	backoff    []time.Duration
	poll       time.Duration
}

// NewConsumer creates a Consumer.
func NewConsumer(source Source, handler Handler, maxRetries int, backoff []time.Duration, poll time.Duration) *Consumer {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Consumer{
		source:     source,
		handler:    handler,
		maxRetries: maxRetries,
		backoff:    backoff,
		poll:       poll,
	}
}

// backoffFor returns the delay before the next attempt. Attempts beyond the
// configured schedule reuse its last interval.
func (c *Consumer) backoffFor(attempt int) time.Duration {
	if len(c.backoff) == 0 {
		return c.poll
	}
	if attempt >= len(c.backoff) {
		return c.backoff[len(c.backoff)-1]
	}
	return c.backoff[attempt]
}

// Run consumes until the context is canceled.
func (c *Consumer) Run(ctx context.Context) {
	slog.Info("job consumer started", "queue", c.source.Name(), "handler", c.handler.Name())
	for {
		select {
		case <-ctx.Done():
			slog.Info("job consumer stopped", "queue", c.source.Name())
			return
		default:
		}
		if err := c.Step(ctx); err != nil {
			slog.Error("job consumer step failed", "queue", c.source.Name(), "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.poll):
			}
		}
	}
}

// Step dequeues and processes at most one job. Split out of Run so tests can
// drive the loop directly.
func (c *Consumer) Step(ctx context.Context) error {
	job, err := c.source.Dequeue(ctx, c.poll)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	if err := c.handler.Handle(ctx, *job); err != nil {
		next := job.Attempt + 1
		if next >= c.maxRetries {
			slog.Error("job retries exhausted",
				"queue", c.source.Name(), "solution_id", job.SolutionID,
				"attempts", next, "error", err)
			return nil
		}
		delay := c.backoffFor(job.Attempt)
		slog.Warn("job failed, rescheduling",
			"queue", c.source.Name(), "solution_id", job.SolutionID,
			"attempt", next, "delay", delay, "error", err)
		retry := *job
		retry.Attempt = next
		return c.source.EnqueueIn(ctx, retry, delay)
	}
	return nil
}
