// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/bus"
	"github.com/tomtom215/sentinel/internal/geo"
	"github.com/tomtom215/sentinel/internal/geofence"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/queue"
	"github.com/tomtom215/sentinel/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

var testZoneCenter = geo.Coordinate{Latitude: 26.8547, Longitude: 80.9462}

func testZones() []models.Zone {
	return []models.Zone{{
		ID:           "zone-police",
		Name:         "Hazratganj Police Station",
		Category:     models.ZonePolice,
		Center:       testZoneCenter,
		RadiusMeters: 500,
		Active:       true,
	}}
}

type fixture struct {
	handlers *Handlers
	router   http.Handler
	bus      *bus.Bus
	monitor  *geofence.Monitor
	memory   *store.Memory
}

func newFixture(t *testing.T, alerts store.AlertStore, chats store.ChatStore, q *queue.Queue) *fixture {
	t.Helper()
	monitor := geofence.New(geofence.Config{})
	monitor.SetZones(testZones())
	b := bus.New(64)
	mem, _ := alerts.(*store.Memory)

	h := NewHandlers(monitor, b, q, alerts, chats)
	router := NewRouter(RouterConfig{
		CORSOrigins:       []string{"*"},
		IngestRatePerMin:  10000,
		RequestRatePerMin: 10000,
	}, h, nil)

	return &fixture{handlers: h, router: router, bus: b, monitor: monitor, memory: mem}
}

func newMemoryFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	return newFixture(t, mem, mem, nil)
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func receive(t *testing.T, ch <-chan bus.Envelope) bus.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus delivery")
		return bus.Envelope{}
	}
}

// unavailableStore simulates a down persistence collaborator.
type unavailableStore struct{}

func (unavailableStore) CreateAlert(context.Context, *models.Alert) error {
	return store.ErrUnavailable
}
func (unavailableStore) GetAlert(context.Context, string) (*models.Alert, error) {
	return nil, store.ErrUnavailable
}
func (unavailableStore) ListAlerts(context.Context, models.AlertStatus) ([]*models.Alert, error) {
	return nil, store.ErrUnavailable
}
func (unavailableStore) UpdateAlertStatus(context.Context, string, models.AlertStatus, string) (*models.Alert, error) {
	return nil, store.ErrUnavailable
}
func (unavailableStore) AppendMessage(context.Context, *models.ChatMessage) error {
	return store.ErrUnavailable
}
func (unavailableStore) Messages(context.Context, string) ([]*models.ChatMessage, error) {
	return nil, store.ErrUnavailable
}

func TestHealth(t *testing.T) {
	f := newMemoryFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIngestLocationPublishesTransitions(t *testing.T) {
	f := newMemoryFixture(t)

	envelopes, err := f.bus.Attach("authority-conn")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := f.bus.Subscribe("authority-conn", bus.TopicAuthorities); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/tourists/location", LocationRequest{
		TouristID: "tourist-1",
		Latitude:  testZoneCenter.Latitude,
		Longitude: testZoneCenter.Longitude,
		Sequence:  1,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[LocationResponse](t, rec)
	if len(resp.Transitions) != 1 || resp.Transitions[0].Direction != models.DirectionEntered {
		t.Fatalf("expected one entered transition, got %+v", resp.Transitions)
	}

	first := receive(t, envelopes)
	if first.Event.Type != bus.EventTouristLocation {
		t.Errorf("expected location event first, got %s", first.Event.Type)
	}
	second := receive(t, envelopes)
	if second.Event.Type != bus.EventZoneTransition {
		t.Errorf("expected transition event, got %s", second.Event.Type)
	}
}

func TestIngestLocationRejectsInvalidCoordinate(t *testing.T) {
	f := newMemoryFixture(t)
	rec := f.do(t, http.MethodPost, "/api/tourists/location", map[string]any{
		"tourist_id": "tourist-1",
		"latitude":   95.0,
		"longitude":  10.0,
		"sequence":   1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestLocationStaleSampleAccepted(t *testing.T) {
	f := newMemoryFixture(t)

	for _, seq := range []uint64{5, 3} {
		rec := f.do(t, http.MethodPost, "/api/tourists/location", LocationRequest{
			TouristID: "tourist-1",
			Latitude:  testZoneCenter.Latitude,
			Longitude: testZoneCenter.Longitude,
			Sequence:  seq,
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("seq %d: expected 202, got %d", seq, rec.Code)
		}
	}

	// The stale sample produced no transitions and left state untouched.
	sample, ok := f.monitor.LastKnown("tourist-1")
	if !ok || sample.Sequence != 5 {
		t.Errorf("expected last known sequence 5, got %+v", sample)
	}
}

func TestCreateSOS(t *testing.T) {
	f := newMemoryFixture(t)

	envelopes, err := f.bus.Attach("authority-conn")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := f.bus.Subscribe("authority-conn", bus.TopicAuthorities); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/alerts/sos", SOSRequest{
		TouristID: "tourist-1",
		Latitude:  testZoneCenter.Latitude,
		Longitude: testZoneCenter.Longitude,
		Message:   "lost near the market",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	alert := decodeBody[models.Alert](t, rec)
	if alert.ID == "" {
		t.Error("expected a generated alert id")
	}
	if alert.Type != models.AlertSOS || alert.Severity != models.SeverityCritical || alert.Status != models.StatusActive {
		t.Errorf("unexpected alert shape: %+v", alert)
	}

	env := receive(t, envelopes)
	if env.Event.Type != bus.EventNewAlert {
		t.Errorf("expected new-alert on authorities, got %s", env.Event.Type)
	}

	stored, err := f.memory.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("stored alert: %v", err)
	}
	if stored.SubjectID != "tourist-1" {
		t.Errorf("expected subject tourist-1, got %s", stored.SubjectID)
	}
}

func TestUpdateAlertLifecycle(t *testing.T) {
	f := newMemoryFixture(t)

	created := f.do(t, http.MethodPost, "/api/alerts/sos", SOSRequest{
		TouristID: "tourist-1",
		Latitude:  testZoneCenter.Latitude,
		Longitude: testZoneCenter.Longitude,
	})
	alert := decodeBody[models.Alert](t, created)

	envelopes, err := f.bus.Attach("room-conn")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := f.bus.Subscribe("room-conn", bus.AlertTopic(alert.ID)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	rec := f.do(t, http.MethodPatch, "/api/alerts/"+alert.ID, AlertStatusRequest{
		Status:      models.StatusAcknowledged,
		ResponderID: "officer-7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[models.Alert](t, rec)
	if updated.Status != models.StatusAcknowledged || updated.ResponderID != "officer-7" {
		t.Errorf("unexpected update: %+v", updated)
	}

	env := receive(t, envelopes)
	if env.Event.Type != bus.EventAlertUpdated {
		t.Errorf("expected alert-updated in the alert room, got %s", env.Event.Type)
	}
}

func TestUpdateAlertErrors(t *testing.T) {
	f := newMemoryFixture(t)

	rec := f.do(t, http.MethodPatch, "/api/alerts/missing", AlertStatusRequest{Status: models.StatusResolved})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing alert, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPatch, "/api/alerts/missing", map[string]string{"status": "escalated"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestListAlertsFilter(t *testing.T) {
	f := newMemoryFixture(t)

	for i := 0; i < 2; i++ {
		f.do(t, http.MethodPost, "/api/alerts/sos", SOSRequest{
			TouristID: "tourist-1",
			Latitude:  testZoneCenter.Latitude,
			Longitude: testZoneCenter.Longitude,
		})
	}

	rec := f.do(t, http.MethodGet, "/api/alerts/?status=active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	alerts := decodeBody[[]models.Alert](t, rec)
	if len(alerts) != 2 {
		t.Errorf("expected 2 active alerts, got %d", len(alerts))
	}

	rec = f.do(t, http.MethodGet, "/api/alerts/?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bogus status, got %d", rec.Code)
	}
}

func TestChatSendAndHistory(t *testing.T) {
	f := newMemoryFixture(t)

	envelopes, err := f.bus.Attach("room-conn")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := f.bus.Subscribe("room-conn", bus.AlertTopic("a-1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/chat/send", ChatRequest{
		AlertID:    "a-1",
		SenderID:   "officer-7",
		SenderRole: "authority",
		Message:    "on my way",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	env := receive(t, envelopes)
	if env.Event.Type != bus.EventNewMessage {
		t.Errorf("expected new-message in room, got %s", env.Event.Type)
	}

	rec = f.do(t, http.MethodGet, "/api/chat/a-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	msgs := decodeBody[[]models.ChatMessage](t, rec)
	if len(msgs) != 1 || msgs[0].Message != "on my way" {
		t.Errorf("unexpected history: %+v", msgs)
	}
}

func TestZoneEndpoints(t *testing.T) {
	f := newMemoryFixture(t)

	rec := f.do(t, http.MethodGet, "/api/zones/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("zones: expected 200, got %d", rec.Code)
	}
	zones := decodeBody[[]models.Zone](t, rec)
	if len(zones) != 1 || zones[0].ID != "zone-police" {
		t.Errorf("unexpected zones: %+v", zones)
	}

	rec = f.do(t, http.MethodGet, "/api/zones/nearby?latitude=26.86&longitude=80.95", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("nearby: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	nearby := decodeBody[NearbyZoneResponse](t, rec)
	if nearby.Zone.ID != "zone-police" || nearby.DistanceMeters <= 0 {
		t.Errorf("unexpected nearby response: %+v", nearby)
	}

	rec = f.do(t, http.MethodGet, "/api/zones/nearby?latitude=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("nearby bad query: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/zones/check", ZoneCheckRequest{
		Latitude:  testZoneCenter.Latitude,
		Longitude: testZoneCenter.Longitude,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", rec.Code)
	}
	check := decodeBody[ZoneCheckResponse](t, rec)
	if !check.Inside || len(check.Zones) != 1 {
		t.Errorf("expected inside zone-police, got %+v", check)
	}

	rec = f.do(t, http.MethodPost, "/api/zones/check", ZoneCheckRequest{Latitude: 0, Longitude: 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("check outside: expected 200, got %d", rec.Code)
	}
	check = decodeBody[ZoneCheckResponse](t, rec)
	if check.Inside {
		t.Errorf("expected outside, got %+v", check)
	}
}

func TestStoreOutageFallsBackToQueue(t *testing.T) {
	qcfg := queue.DefaultConfig()
	qcfg.Path = t.TempDir()
	qcfg.SyncWrites = false
	qcfg.GCInterval = 0
	q, err := queue.Open(qcfg)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	f := newFixture(t, unavailableStore{}, unavailableStore{}, q)

	rec := f.do(t, http.MethodPost, "/api/alerts/sos", SOSRequest{
		TouristID: "tourist-1",
		Latitude:  testZoneCenter.Latitude,
		Longitude: testZoneCenter.Longitude,
		Message:   "help",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 while store is down, got %d: %s", rec.Code, rec.Body.String())
	}
	alert := decodeBody[models.Alert](t, rec)

	rec = f.do(t, http.MethodPost, "/api/chat/send", ChatRequest{
		AlertID:  alert.ID,
		SenderID: "tourist-1",
		Message:  "still here",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for queued chat, got %d", rec.Code)
	}

	pending, err := q.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 queued mutations, got %d", len(pending))
	}
	if pending[0].Kind != store.MutationAlertCreate || pending[1].Kind != store.MutationChatAppend {
		t.Errorf("unexpected mutation kinds: %s, %s", pending[0].Kind, pending[1].Kind)
	}

	// Once the store recovers, draining converges it to the live state.
	mem := store.NewMemory()
	if _, err := q.Drain(context.Background(), store.NewSink(mem, mem)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	recovered, err := mem.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("recovered alert: %v", err)
	}
	if recovered.Message != "help" {
		t.Errorf("unexpected recovered alert: %+v", recovered)
	}
	msgs, err := mem.Messages(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("recovered messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 recovered message, got %d", len(msgs))
	}
}

func TestQueueOpsEndpoints(t *testing.T) {
	qcfg := queue.DefaultConfig()
	qcfg.Path = t.TempDir()
	qcfg.SyncWrites = false
	qcfg.MaxAttempts = 1
	qcfg.RetryBackoff = time.Millisecond
	qcfg.BackoffCap = time.Millisecond
	qcfg.GCInterval = 0
	q, err := queue.Open(qcfg)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	mem := store.NewMemory()
	f := newFixture(t, mem, mem, q)

	if _, err := q.Enqueue(context.Background(), "alert.delete", map[string]string{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Drain(context.Background(), store.NewSink(mem, mem)); err != nil {
		t.Fatalf("drain: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
	stats := decodeBody[QueueStats](t, rec)
	if stats.Pending != 0 || stats.DeadLetters != 1 {
		t.Errorf("expected 0 pending / 1 dead, got %+v", stats)
	}

	rec = f.do(t, http.MethodGet, "/api/queue/dead-letters", nil)
	dead := decodeBody[[]queue.Mutation](t, rec)
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}

	rec = f.do(t, http.MethodDelete, "/api/queue/dead-letters/"+dead[0].ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("remove: expected 204, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodDelete, "/api/queue/dead-letters/"+dead[0].ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second remove: expected 404, got %d", rec.Code)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newMemoryFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/sos", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
