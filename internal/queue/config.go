// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package queue provides the durable mutation queue: an ordered,
// append-only log of write-intents (alert creation, status updates, chat
// sends) recorded while the backing store is unreachable, persisted in
// BadgerDB and replayed in strict enqueue order once connectivity
// returns.
//
// Delivery is at-least-once; every mutation carries a client-generated id
// and the sink is required to deduplicate on it, giving exactly-once
// effect. A mutation that exhausts its retry budget is moved to a
// dead-letter set so a single poison mutation never stalls the queue.
package queue

import "time"

// Config holds mutation queue tuning.
type Config struct {
	// Path is the directory where BadgerDB stores its files.
	// Should be on a durable filesystem (not tmpfs).
	Path string

	// SyncWrites forces fsync after every write for maximum durability.
	// Set to false for higher throughput but risk of loss on power failure.
	SyncWrites bool

	// MaxAttempts is the retry budget per mutation during drain. A
	// mutation failing this many times moves to the dead-letter set.
	MaxAttempts int

	// AckTimeout bounds each sink Apply call. A timeout is treated as a
	// retryable failure.
	AckTimeout time.Duration

	// RetryBackoff is the initial delay for exponential backoff between
	// attempts on the same mutation.
	RetryBackoff time.Duration

	// BackoffCap bounds the exponential backoff delay.
	BackoffCap time.Duration

	// DrainInterval is how often the background drain loop attempts a
	// replay while mutations are pending.
	DrainInterval time.Duration

	// GCInterval is how often BadgerDB value-log garbage collection runs.
	GCInterval time.Duration

	// CloseTimeout is the maximum time to wait for graceful shutdown.
	CloseTimeout time.Duration
}

// DefaultConfig returns durability-first defaults.
func DefaultConfig() Config {
	return Config{
		Path:          "/data/mutations",
		SyncWrites:    true,
		MaxAttempts:   5,
		AckTimeout:    10 * time.Second,
		RetryBackoff:  500 * time.Millisecond,
		BackoffCap:    30 * time.Second,
		DrainInterval: 15 * time.Second,
		GCInterval:    time.Hour,
		CloseTimeout:  30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ConfigError{Field: "Path", Message: "queue path is required"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "MaxAttempts", Message: "must be at least 1"}
	}
	if c.AckTimeout <= 0 {
		return &ConfigError{Field: "AckTimeout", Message: "must be positive"}
	}
	if c.RetryBackoff <= 0 {
		return &ConfigError{Field: "RetryBackoff", Message: "must be positive"}
	}
	if c.BackoffCap < c.RetryBackoff {
		return &ConfigError{Field: "BackoffCap", Message: "must be at least RetryBackoff"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "queue config error: " + e.Field + ": " + e.Message
}
