// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/sentinel/internal/logging"
)

// Sink applies drained mutations to the backing store.
//
// Delivery is at-least-once: after a partial failure the same mutation
// may be applied again, so implementations must deduplicate on
// Mutation.ID. Apply must honor ctx cancellation.
type Sink interface {
	Apply(ctx context.Context, m *Mutation) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, m *Mutation) error

// Apply calls f(ctx, m).
func (f SinkFunc) Apply(ctx context.Context, m *Mutation) error {
	return f(ctx, m)
}

// RetryableError marks a failure as transient. Drain retries the
// mutation with exponential backoff.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError marks a failure as unrecoverable. Drain dead-letters
// the mutation immediately without consuming further attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as unrecoverable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked unrecoverable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsRetryable reports whether err should be retried. Timeouts and
// unclassified errors count as retryable; only explicit PermanentError
// does not. Treating unknown failures as transient is the safe default
// for a durability layer: a wrongly retried mutation is deduplicated by
// the sink, a wrongly dropped one is lost.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}

// BreakerSink wraps a Sink with a circuit breaker so a store that is
// hard down fails fast instead of consuming the full ack timeout on
// every mutation. An open breaker surfaces as a retryable error.
type BreakerSink struct {
	inner   Sink
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerSink wraps inner with a circuit breaker named for logs.
func NewBreakerSink(name string, inner Sink) *BreakerSink {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Sink circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// A permanent failure is the sink answering, not the sink
			// being down; it must not trip the breaker.
			return err == nil || IsPermanent(err)
		},
	}
	return &BreakerSink{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Apply forwards to the inner sink through the breaker.
func (s *BreakerSink) Apply(ctx context.Context, m *Mutation) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.inner.Apply(ctx, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Retryable(err)
	}
	return err
}
