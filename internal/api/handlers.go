// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package api exposes the HTTP surface: location ingest, alert and chat
// endpoints, the zone catalog, and operational endpoints for the
// mutation queue.
//
// Writes go through the persistence collaborators. When a store reports
// a transient failure the write is enqueued on the mutation queue and
// the request answers 202; realtime fan-out on the bus happens either
// way, so responders see the event even while persistence is down.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sentinel/internal/bus"
	"github.com/tomtom215/sentinel/internal/geo"
	"github.com/tomtom215/sentinel/internal/geofence"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/queue"
	"github.com/tomtom215/sentinel/internal/store"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	monitor  *geofence.Monitor
	bus      *bus.Bus
	queue    *queue.Queue
	alerts   store.AlertStore
	chats    store.ChatStore
	validate *validator.Validate
}

// NewHandlers wires the handler set. The queue may be nil in tests that
// do not exercise the fallback path.
func NewHandlers(monitor *geofence.Monitor, b *bus.Bus, q *queue.Queue, alerts store.AlertStore, chats store.ChatStore) *Handlers {
	return &Handlers{
		monitor:  monitor,
		bus:      b,
		queue:    q,
		alerts:   alerts,
		chats:    chats,
		validate: validator.New(),
	}
}

// Health responds to liveness probes.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LocationRequest is the ingest payload.
type LocationRequest struct {
	TouristID string    `json:"tourist_id" validate:"required"`
	Latitude  float64   `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64   `json:"longitude" validate:"min=-180,max=180"`
	Sequence  uint64    `json:"sequence" validate:"required"`
	At        time.Time `json:"at"`
}

// LocationResponse reports the transitions an ingest produced.
type LocationResponse struct {
	Accepted    bool                     `json:"accepted"`
	Transitions []models.TransitionEvent `json:"transitions"`
}

// IngestLocation accepts a tourist position sample, runs it through the
// geofence monitor, and fans the results out on the bus. Stale samples
// are accepted and ignored.
func (h *Handlers) IngestLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	coord := geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	transitions, err := h.monitor.Observe(req.TouristID, coord, at, req.Sequence)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinate) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to process location")
		return
	}

	sample := models.LocationSample{
		EntityID:   req.TouristID,
		Coordinate: coord,
		At:         at,
		Sequence:   req.Sequence,
	}
	h.bus.Publish(bus.TopicAuthorities, bus.Event{Type: bus.EventTouristLocation, Data: sample, At: at})

	for _, tr := range transitions {
		ev := bus.Event{Type: bus.EventZoneTransition, Data: tr, At: tr.At}
		h.bus.Publish(bus.TopicAuthorities, ev)
		h.bus.Publish(bus.PersonalTopic(req.TouristID), ev)
	}

	if transitions == nil {
		transitions = []models.TransitionEvent{}
	}
	writeJSON(w, http.StatusAccepted, LocationResponse{Accepted: true, Transitions: transitions})
}

// SOSRequest raises a critical alert for a tourist.
type SOSRequest struct {
	TouristID string  `json:"tourist_id" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	Message   string  `json:"message" validate:"max=2000"`
}

// CreateSOS creates a critical SOS alert and notifies authorities.
func (h *Handlers) CreateSOS(w http.ResponseWriter, r *http.Request) {
	var req SOSRequest
	if !h.decode(w, r, &req) {
		return
	}

	coord := geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := coord.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert := &models.Alert{
		ID:        uuid.New().String(),
		SubjectID: req.TouristID,
		Type:      models.AlertSOS,
		Severity:  models.SeverityCritical,
		Status:    models.StatusActive,
		Location:  coord,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
	}

	status := http.StatusCreated
	if err := h.alerts.CreateAlert(r.Context(), alert); err != nil {
		if !h.enqueue(r.Context(), w, store.MutationAlertCreate, alert, err) {
			return
		}
		status = http.StatusAccepted
	}

	ev := bus.Event{Type: bus.EventNewAlert, Data: alert, At: alert.CreatedAt}
	h.bus.Publish(bus.TopicAuthorities, ev)
	h.bus.Publish(bus.PersonalTopic(req.TouristID), ev)

	logging.Info().
		Str("alert_id", alert.ID).
		Str("tourist_id", req.TouristID).
		Msg("SOS alert raised")
	writeJSON(w, status, alert)
}

// AlertStatusRequest transitions an alert's lifecycle state.
type AlertStatusRequest struct {
	Status      models.AlertStatus `json:"status" validate:"required"`
	ResponderID string             `json:"responder_id"`
}

// UpdateAlert applies a status change to an alert and fans the new
// snapshot out to authorities and the alert's chat room.
func (h *Handlers) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")
	var req AlertStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown alert status: "+string(req.Status))
		return
	}

	alert, err := h.alerts.UpdateAlertStatus(r.Context(), alertID, req.Status, req.ResponderID)
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
		return
	default:
		payload := store.AlertUpdatePayload{AlertID: alertID, Status: req.Status, ResponderID: req.ResponderID}
		if !h.enqueue(r.Context(), w, store.MutationAlertUpdate, payload, err) {
			return
		}
		status = http.StatusAccepted
		// Fan out a best-effort snapshot so responders still see the
		// intent while persistence catches up.
		alert = &models.Alert{ID: alertID, Status: req.Status, ResponderID: req.ResponderID}
	}

	ev := bus.Event{Type: bus.EventAlertUpdated, Data: alert, At: time.Now().UTC()}
	h.bus.Publish(bus.TopicAuthorities, ev)
	h.bus.Publish(bus.AlertTopic(alertID), ev)

	writeJSON(w, status, alert)
}

// ListAlerts returns alerts, optionally filtered by ?status=.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := models.AlertStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown alert status: "+string(status))
		return
	}
	alerts, err := h.alerts.ListAlerts(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "alert store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// ChatRequest posts a message into an alert's chat room.
type ChatRequest struct {
	AlertID    string `json:"alert_id" validate:"required"`
	SenderID   string `json:"sender_id" validate:"required"`
	SenderRole string `json:"sender_role"`
	Message    string `json:"message" validate:"required,max=2000"`
}

// SendChat stores a chat message and fans it out to the alert room.
func (h *Handlers) SendChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg := &models.ChatMessage{
		ID:         uuid.New().String(),
		AlertID:    req.AlertID,
		SenderID:   req.SenderID,
		SenderRole: req.SenderRole,
		Message:    req.Message,
		SentAt:     time.Now().UTC(),
	}

	status := http.StatusCreated
	if err := h.chats.AppendMessage(r.Context(), msg); err != nil {
		if !h.enqueue(r.Context(), w, store.MutationChatAppend, msg, err) {
			return
		}
		status = http.StatusAccepted
	}

	h.bus.Publish(bus.AlertTopic(req.AlertID), bus.Event{Type: bus.EventNewMessage, Data: msg, At: msg.SentAt})
	writeJSON(w, status, msg)
}

// ChatHistory returns an alert room's messages in send order.
func (h *Handlers) ChatHistory(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")
	msgs, err := h.chats.Messages(r.Context(), alertID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "chat store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ListZones returns the monitor's current zone snapshot.
func (h *Handlers) ListZones(w http.ResponseWriter, _ *http.Request) {
	zones := h.monitor.Zones()
	if zones == nil {
		zones = []models.Zone{}
	}
	writeJSON(w, http.StatusOK, zones)
}

// NearbyZoneResponse is the closest zone to a query point.
type NearbyZoneResponse struct {
	Zone           models.Zone `json:"zone"`
	DistanceMeters float64     `json:"distance_meters"`
}

// NearestZone returns the closest active zone to ?latitude=&longitude=.
func (h *Handlers) NearestZone(w http.ResponseWriter, r *http.Request) {
	coord, ok := coordFromQuery(w, r)
	if !ok {
		return
	}
	zone, distance, found, err := h.monitor.NearestZone(coord)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no active zones")
		return
	}
	writeJSON(w, http.StatusOK, NearbyZoneResponse{Zone: zone, DistanceMeters: distance})
}

// ZoneCheckRequest asks which zones contain a point.
type ZoneCheckRequest struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// ZoneCheckResponse lists the zones containing the queried point.
type ZoneCheckResponse struct {
	Inside bool          `json:"inside"`
	Zones  []models.Zone `json:"zones"`
}

// CheckZones reports which active zones contain the posted point.
func (h *Handlers) CheckZones(w http.ResponseWriter, r *http.Request) {
	var req ZoneCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	zones, err := h.monitor.Membership(geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if zones == nil {
		zones = []models.Zone{}
	}
	writeJSON(w, http.StatusOK, ZoneCheckResponse{Inside: len(zones) > 0, Zones: zones})
}

// QueueStats summarizes the mutation queue for operators.
type QueueStats struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"dead_letters"`
}

// QueueStatsHandler reports queue depth and dead-letter count.
func (h *Handlers) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	dead, err := h.queue.DeadLetters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	writeJSON(w, http.StatusOK, QueueStats{Pending: len(pending), DeadLetters: len(dead)})
}

// ListDeadLetters returns the mutations that exhausted their retries.
func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	dead, err := h.queue.DeadLetters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	if dead == nil {
		dead = []*queue.Mutation{}
	}
	writeJSON(w, http.StatusOK, dead)
}

// RemoveDeadLetter discards one dead-lettered mutation by id.
func (h *Handlers) RemoveDeadLetter(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	id := chi.URLParam(r, "id")
	err := h.queue.RemoveDeadLetter(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "dead letter not found")
	default:
		writeError(w, http.StatusInternalServerError, "failed to remove dead letter")
	}
}

// decode parses and validates a JSON body, answering the request itself
// on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// enqueue falls back to the mutation queue for a transiently failed
// write. Permanent store failures and a missing queue surface as 503.
func (h *Handlers) enqueue(ctx context.Context, w http.ResponseWriter, kind string, payload any, cause error) bool {
	if h.queue == nil || !errors.Is(cause, store.ErrUnavailable) {
		logging.Error().Err(cause).Str("kind", kind).Msg("store write failed")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return false
	}
	if _, err := h.queue.Enqueue(ctx, kind, payload); err != nil {
		logging.Error().Err(err).Str("kind", kind).Msg("failed to queue mutation")
		writeError(w, http.StatusServiceUnavailable, "store unavailable and queue write failed")
		return false
	}
	logging.Warn().Err(cause).Str("kind", kind).Msg("store unavailable, mutation queued")
	return true
}

func coordFromQuery(w http.ResponseWriter, r *http.Request) (geo.Coordinate, bool) {
	q := r.URL.Query()
	var coord geo.Coordinate
	var err error
	coord.Latitude, err = strconv.ParseFloat(q.Get("latitude"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "latitude query parameter required")
		return coord, false
	}
	coord.Longitude, err = strconv.ParseFloat(q.Get("longitude"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "longitude query parameter required")
		return coord, false
	}
	return coord, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
