// Package queue is a small durable job queue on Redis: a ready list plus a
// delayed sorted set per queue name. Delivery is at-least-once; consumers
// must tolerate duplicates.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/context8/context8-docker/internal/apperr"
)

// Job is one unit of background work.
type Job struct {
	SolutionID string `json:"solution_id"`
	Attempt    int    `json:"attempt"`
	// Force makes an embedding retry re-embed even an already-done row.
	Force bool `json:"force,omitempty"`
}

// Queue is one named job queue.
type Queue struct {
	rdb  *redis.Client
	name string
}

// New creates a handle on the named queue.
func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) readyKey() string   { return fmt.Sprintf("c8:queue:%s", q.name) }
func (q *Queue) delayedKey() string { return fmt.Sprintf("c8:queue:%s:delayed", q.name) }

// Enqueue pushes a job onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "encode job")
	}
	if err := q.rdb.RPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return apperr.Wrap(apperr.Upstream, err, "enqueue %s job", q.name)
	}
	return nil
}

// EnqueueIn schedules a job to become ready after the delay.
func (q *Queue) EnqueueIn(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "encode job")
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: payload}).Err(); err != nil {
		return apperr.Wrap(apperr.Upstream, err, "schedule %s job", q.name)
	}
	return nil
}

// promoteDue moves jobs whose delay has elapsed onto the ready list.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, payload := range due {
		// RPush before ZRem: a crash in between re-delivers the job, which
		// at-least-once consumers already absorb.
		if err := q.rdb.RPush(ctx, q.readyKey(), payload).Err(); err != nil {
			return err
		}
		if err := q.rdb.ZRem(ctx, q.delayedKey(), payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue pops the next ready job, blocking up to wait. Returns (nil, nil)
// when nothing became ready.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "promote delayed %s jobs", q.name)
	}
	vals, err := q.rdb.BLPop(ctx, wait, q.readyKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "dequeue %s job", q.name)
	}
	// BLPop returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode %s job", q.name)
	}
	return &job, nil
}

// Len reports ready and delayed depths, for the status surface.
func (q *Queue) Len(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = q.rdb.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.Upstream, err, "measure %s queue", q.name)
	}
	delayed, err = q.rdb.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.Upstream, err, "measure %s queue", q.name)
	}
	return ready, delayed, nil
}
