// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/queue"
)

// Mutation kinds replayed through the queue.
const (
	MutationAlertCreate = "alert.create"
	MutationAlertUpdate = "alert.update_status"
	MutationChatAppend  = "chat.append"
)

// AlertUpdatePayload is the queued form of a status change.
type AlertUpdatePayload struct {
	AlertID     string             `json:"alert_id"`
	Status      models.AlertStatus `json:"status"`
	ResponderID string             `json:"responder_id,omitempty"`
}

// Sink replays queued mutations into the stores. Store idempotency on
// record ids gives exactly-once effect over the queue's at-least-once
// delivery.
type Sink struct {
	alerts AlertStore
	chats  ChatStore
}

// NewSink builds the replay sink over the given stores.
func NewSink(alerts AlertStore, chats ChatStore) *Sink {
	return &Sink{alerts: alerts, chats: chats}
}

// Apply implements queue.Sink.
func (s *Sink) Apply(ctx context.Context, m *queue.Mutation) error {
	switch m.Kind {
	case MutationAlertCreate:
		var alert models.Alert
		if err := json.Unmarshal(m.Payload, &alert); err != nil {
			return queue.Permanent(fmt.Errorf("malformed alert payload: %w", err))
		}
		return classify(s.alerts.CreateAlert(ctx, &alert))

	case MutationAlertUpdate:
		var p AlertUpdatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return queue.Permanent(fmt.Errorf("malformed update payload: %w", err))
		}
		_, err := s.alerts.UpdateAlertStatus(ctx, p.AlertID, p.Status, p.ResponderID)
		return classify(err)

	case MutationChatAppend:
		var msg models.ChatMessage
		if err := json.Unmarshal(m.Payload, &msg); err != nil {
			return queue.Permanent(fmt.Errorf("malformed chat payload: %w", err))
		}
		return classify(s.chats.AppendMessage(ctx, &msg))

	default:
		return queue.Permanent(fmt.Errorf("unknown mutation kind %q", m.Kind))
	}
}

// classify maps store errors onto the queue's retry taxonomy. A missing
// record will not appear by retrying; an unreachable store might.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return queue.Permanent(err)
	case errors.Is(err, ErrUnavailable):
		return queue.Retryable(err)
	default:
		return err
	}
}
