// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/sentinel/internal/models"
)

// Memory is an in-process AlertStore and ChatStore. It backs development
// and test deployments; production wires a database-backed collaborator
// behind the same interfaces.
type Memory struct {
	mu       sync.RWMutex
	alerts   map[string]*models.Alert
	messages map[string][]*models.ChatMessage
	seenMsg  map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		alerts:   make(map[string]*models.Alert),
		messages: make(map[string][]*models.ChatMessage),
		seenMsg:  make(map[string]bool),
	}
}

// CreateAlert implements AlertStore.
func (m *Memory) CreateAlert(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.alerts[alert.ID]; exists {
		return nil
	}
	cp := *alert
	m.alerts[alert.ID] = &cp
	return nil
}

// GetAlert implements AlertStore.
func (m *Memory) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *alert
	return &cp, nil
}

// ListAlerts implements AlertStore.
func (m *Memory) ListAlerts(_ context.Context, status models.AlertStatus) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if status != "" && alert.Status != status {
			continue
		}
		cp := *alert
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateAlertStatus implements AlertStore.
func (m *Memory) UpdateAlertStatus(_ context.Context, id string, status models.AlertStatus, responderID string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if alert.Status != status {
		alert.Status = status
		now := time.Now().UTC()
		switch status {
		case models.StatusAcknowledged:
			alert.AckedAt = &now
		case models.StatusResolved, models.StatusFalseAlarm:
			alert.ResolvedAt = &now
		}
	}
	if responderID != "" {
		alert.ResponderID = responderID
	}
	cp := *alert
	return &cp, nil
}

// AppendMessage implements ChatStore.
func (m *Memory) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenMsg[msg.ID] {
		return nil
	}
	m.seenMsg[msg.ID] = true
	cp := *msg
	m.messages[msg.AlertID] = append(m.messages[msg.AlertID], &cp)
	return nil
}

// Messages implements ChatStore.
func (m *Memory) Messages(_ context.Context, alertID string) ([]*models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room := m.messages[alertID]
	out := make([]*models.ChatMessage, 0, len(room))
	for _, msg := range room {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}
