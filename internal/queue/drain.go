// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
)

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Acked        int
	Retries      int
	DeadLettered int
	Remaining    int
}

// Drain replays pending mutations through sink in strict enqueue order.
//
// A mutation is removed only after the sink acknowledges it; the next
// mutation is never attempted while its predecessor is still pending.
// Retryable failures back off exponentially (base doubling per attempt,
// capped) and count against the mutation's attempt budget; exhausting
// the budget or a permanent failure moves the mutation to the
// dead-letter set and the drain continues with the next one.
//
// Only one drain may run at a time; concurrent calls get
// ErrDrainInProgress. Cancelling ctx stops between attempts and returns
// the partial result with ctx.Err().
func (q *Queue) Drain(ctx context.Context, sink Sink) (result DrainResult, err error) {
	if q.closed.Load() {
		return result, ErrQueueClosed
	}
	if !q.draining.CompareAndSwap(false, true) {
		return result, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	start := time.Now()
	defer func() {
		metrics.ObserveDrainDuration(time.Since(start).Seconds())
		if depth, err := q.Depth(); err == nil {
			metrics.SetQueueDepth(int64(depth))
			result.Remaining = depth
		}
	}()

	pending, err := q.Pending(ctx)
	if err != nil {
		return result, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	logging.Info().Int("pending", len(pending)).Msg("Draining mutation queue")

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := q.drainOne(ctx, sink, m, &result); err != nil {
			return result, err
		}
	}

	logging.Info().
		Int("acked", result.Acked).
		Int("retries", result.Retries).
		Int("dead_lettered", result.DeadLettered).
		Dur("elapsed", time.Since(start)).
		Msg("Mutation queue drained")

	return result, nil
}

// drainOne retries a single mutation until it is acked, dead-lettered,
// or the context is cancelled.
func (q *Queue) drainOne(ctx context.Context, sink Sink, m *Mutation, result *DrainResult) error {
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, q.config.AckTimeout)
		err := sink.Apply(attemptCtx, m)
		cancel()

		if err == nil {
			if ackErr := q.ack(m); ackErr != nil {
				return ackErr
			}
			result.Acked++
			return nil
		}

		m.Attempts++
		m.LastError = err.Error()
		m.LastAttemptAt = time.Now().UTC()

		if IsPermanent(err) {
			if dlErr := q.moveToDead(m); dlErr != nil {
				return dlErr
			}
			result.DeadLettered++
			return nil
		}

		if recErr := q.recordAttempt(m); recErr != nil {
			return recErr
		}
		metrics.RecordRetry()
		result.Retries++

		if m.Attempts >= q.config.MaxAttempts {
			if dlErr := q.moveToDead(m); dlErr != nil {
				return dlErr
			}
			result.DeadLettered++
			return nil
		}

		backoff := q.backoff(m.Attempts)
		logging.Warn().
			Str("mutation_id", m.ID).
			Str("kind", m.Kind).
			Int("attempt", m.Attempts).
			Dur("backoff", backoff).
			Err(err).
			Msg("Mutation apply failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoff computes the delay before the next attempt: base doubled per
// completed attempt, capped.
func (q *Queue) backoff(attempts int) time.Duration {
	backoff := q.config.RetryBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= q.config.BackoffCap {
			return q.config.BackoffCap
		}
	}
	if backoff > q.config.BackoffCap {
		return q.config.BackoffCap
	}
	return backoff
}

// Drainer periodically drains the queue as a supervised service.
type Drainer struct {
	queue    *Queue
	sink     Sink
	interval time.Duration
}

// NewDrainer builds the background drain service.
func NewDrainer(q *Queue, sink Sink) *Drainer {
	interval := q.config.DrainInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Drainer{queue: q, sink: sink, interval: interval}
}

// Serve implements suture.Service.
func (d *Drainer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := d.queue.Drain(ctx, d.sink)
			switch {
			case err == nil, errors.Is(err, ErrDrainInProgress):
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				logging.Warn().Err(err).Msg("Background drain failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (d *Drainer) String() string {
	return "mutation-drainer"
}
