// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package gateway

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/sentinel/internal/bus"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB; clients only send small control frames
)

// Frame types on the wire.
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
	FrameEvent = "event"
	FrameGap   = "gap"
	FramePing  = "ping"
	FramePong  = "pong"
	FrameError = "error"
)

// ClientFrame is a control message from the client.
type ClientFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// ServerFrame is a message to the client.
type ServerFrame struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic,omitempty"`
	Event   string      `json:"event,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Dropped int         `json:"dropped,omitempty"`
	At      time.Time   `json:"at,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Session is a middleman between one websocket connection and the bus.
type Session struct {
	connID    string
	gateway   *Gateway
	conn      *websocket.Conn
	envelopes <-chan bus.Envelope
	control   chan ServerFrame
}

// ConnID returns the bus connection id for this session.
func (s *Session) ConnID() string {
	return s.connID
}

// readPump pumps control frames from the websocket connection to the bus.
func (s *Session) readPump() {
	defer s.gateway.drop(s)

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("conn_id", s.connID).Msg("unexpected websocket close error")
			}
			return
		}
		metrics.RecordGatewayMessage("inbound")
		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.reply(ServerFrame{Type: FrameError, Message: "malformed frame: " + err.Error()})
			continue
		}
		s.handleFrame(frame)
	}
}

// handleFrame dispatches one client control frame.
func (s *Session) handleFrame(frame ClientFrame) {
	switch frame.Type {
	case FrameJoin:
		if frame.Topic == "" {
			s.reply(ServerFrame{Type: FrameError, Message: "join requires a topic"})
			return
		}
		if err := s.gateway.bus.Subscribe(s.connID, frame.Topic); err != nil {
			s.reply(ServerFrame{Type: FrameError, Topic: frame.Topic, Message: err.Error()})
			return
		}
		logging.Debug().
			Str("conn_id", s.connID).
			Str("topic", frame.Topic).
			Msg("Session joined topic")

	case FrameLeave:
		if frame.Topic == "" {
			s.reply(ServerFrame{Type: FrameError, Message: "leave requires a topic"})
			return
		}
		s.gateway.bus.Unsubscribe(s.connID, frame.Topic)
		logging.Debug().
			Str("conn_id", s.connID).
			Str("topic", frame.Topic).
			Msg("Session left topic")

	case FramePing:
		s.reply(ServerFrame{Type: FramePong})

	default:
		s.reply(ServerFrame{Type: FrameError, Message: "unknown frame type: " + frame.Type})
	}
}

// reply queues a control response; full queues drop the reply rather
// than block the read pump.
func (s *Session) reply(frame ServerFrame) {
	select {
	case s.control <- frame:
	default:
	}
}

// writePump pumps bus envelopes and control replies to the websocket
// connection. It exits when the bus detaches the connection (the
// envelope channel closes) or a write fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case env, ok := <-s.envelopes:
			if !ok {
				if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
					_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				}
				return
			}
			if !s.write(frameFromEnvelope(env)) {
				return
			}

		case frame := <-s.control:
			if !s.write(frame) {
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) write(frame ServerFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error().Err(err).Str("conn_id", s.connID).Msg("failed to marshal frame")
		return false
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set write deadline")
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Error().Err(err).Str("conn_id", s.connID).Msg("failed to write frame")
		return false
	}
	metrics.RecordGatewayMessage("outbound")
	return true
}

// frameFromEnvelope converts a bus delivery into its wire form.
func frameFromEnvelope(env bus.Envelope) ServerFrame {
	if env.Gap {
		return ServerFrame{
			Type:    FrameGap,
			Topic:   env.Topic,
			Dropped: env.Dropped,
		}
	}
	return ServerFrame{
		Type:  FrameEvent,
		Topic: env.Topic,
		Event: env.Event.Type,
		Data:  env.Event.Data,
		At:    env.Event.At,
	}
}

// start begins reading and writing for the session.
func (s *Session) start() {
	go s.writePump()
	go s.readPump()
}
