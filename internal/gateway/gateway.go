// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package gateway

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/sentinel/internal/bus"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
)

// Gateway maintains the set of active sessions and attaches each to the
// event bus.
type Gateway struct {
	bus      *bus.Bus
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a gateway over b. checkOrigin may be nil to accept all
// origins (the deployment fronts this with its own origin policy).
func New(b *bus.Bus, checkOrigin func(r *http.Request) bool) *Gateway {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Gateway{
		bus: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request and runs the session until disconnect.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	envelopes, err := g.bus.Attach(connID)
	if err != nil {
		logging.Error().Err(err).Str("conn_id", connID).Msg("failed to attach connection to bus")
		_ = conn.Close()
		return
	}

	s := &Session{
		connID:    connID,
		gateway:   g,
		conn:      conn,
		envelopes: envelopes,
		control:   make(chan ServerFrame, 16),
	}

	g.mu.Lock()
	g.sessions[connID] = s
	total := len(g.sessions)
	g.mu.Unlock()

	metrics.ConnectionOpened()
	logging.Info().
		Str("conn_id", connID).
		Str("remote", r.RemoteAddr).
		Int("total_sessions", total).
		Msg("websocket session connected")

	s.start()
}

// drop tears a session down: detaching from the bus releases every
// subscription and closes the envelope channel, which stops the write
// pump.
func (g *Gateway) drop(s *Session) {
	g.mu.Lock()
	_, present := g.sessions[s.connID]
	if present {
		delete(g.sessions, s.connID)
	}
	total := len(g.sessions)
	g.mu.Unlock()

	if !present {
		return
	}

	g.bus.Detach(s.connID)
	_ = s.conn.Close()
	metrics.ConnectionClosed()
	logging.Info().
		Str("conn_id", s.connID).
		Int("total_sessions", total).
		Msg("websocket session disconnected")
}

// SessionCount returns the number of live sessions.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Shutdown disconnects every live session.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		g.drop(s)
	}
	logging.Info().Int("sessions_closed", len(sessions)).Msg("gateway shut down")
}
