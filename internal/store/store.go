// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package store defines the persistence collaborator contracts for alerts
// and chat messages, plus an in-memory implementation.
//
// The engine treats persistence as external: handlers write through these
// interfaces and fall back to the mutation queue when a store reports a
// transient failure. All writes are idempotent on the record id, which is
// what makes at-least-once queue replay safe.
package store

import (
	"context"
	"errors"

	"github.com/tomtom215/sentinel/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable is returned when the store cannot be reached.
	// Callers treat it as transient and queue the write.
	ErrUnavailable = errors.New("store unavailable")
)

// AlertStore persists alert snapshots.
type AlertStore interface {
	// CreateAlert inserts an alert. Re-inserting an existing id is a no-op
	// success so queue replays stay idempotent.
	CreateAlert(ctx context.Context, alert *models.Alert) error

	// GetAlert fetches one alert by id.
	GetAlert(ctx context.Context, id string) (*models.Alert, error)

	// ListAlerts returns alerts, newest first, optionally filtered by
	// status. An empty status returns everything.
	ListAlerts(ctx context.Context, status models.AlertStatus) ([]*models.Alert, error)

	// UpdateAlertStatus transitions an alert's lifecycle state and stamps
	// the acknowledgement or resolution time. Applying the same status
	// twice is a no-op success.
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus, responderID string) (*models.Alert, error)
}

// ChatStore persists chat messages per alert room.
type ChatStore interface {
	// AppendMessage stores a message. Re-appending an existing id is a
	// no-op success.
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error

	// Messages returns an alert room's messages in send order.
	Messages(ctx context.Context, alertID string) ([]*models.ChatMessage, error)
}
