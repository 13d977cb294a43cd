// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package geofence converts raw per-entity location samples into a clean
// stream of zone transition events.
//
// Each (entity, zone) pair is a two-state machine (outside/inside). Entry
// fires at the zone radius; exit only past the radius plus a hysteresis
// margin, which suppresses enter/exit flapping from GPS jitter at the
// boundary. Per-entity processing is serialized; distinct entities are
// processed fully in parallel. The zone set is a read-mostly snapshot
// swapped atomically by a background refresher, so a refresh can never
// produce a torn read of zone geometry mid-observation.
package geofence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/sentinel/internal/geo"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/models"
)

// DefaultExitHysteresis is the exit margin applied to every zone radius.
// An entity enters at distance <= radius but exits only past
// radius * DefaultExitHysteresis.
const DefaultExitHysteresis = 1.10

// Config holds monitor tuning.
type Config struct {
	// ExitHysteresis is the multiplier applied to a zone's radius for the
	// exit boundary. Must be >= 1.0. Default: 1.10.
	ExitHysteresis float64
}

// Monitor tracks zone membership per entity and emits transition events.
// It owns the last-known-location store; callers query it through
// LastKnown rather than reading ambient globals.
type Monitor struct {
	hysteresis float64

	// zones holds the current zone snapshot. Swapped wholesale by
	// SetZones; Observe loads it once per call.
	zones atomic.Pointer[[]models.Zone]

	mu       sync.Mutex // guards entities map shape only
	entities map[string]*entityState
}

// entityState is the per-entity portion of the state machine. Its mutex
// serializes Observe calls for one entity; the sequence and hysteresis
// invariants depend on that.
type entityState struct {
	mu        sync.Mutex
	seen      bool
	lastKnown models.LocationSample
	inside    map[string]bool // zone ID -> membership
}

// New creates a Monitor with an empty zone set.
func New(cfg Config) *Monitor {
	h := cfg.ExitHysteresis
	if h < 1.0 {
		h = DefaultExitHysteresis
	}
	m := &Monitor{
		hysteresis: h,
		entities:   make(map[string]*entityState),
	}
	empty := make([]models.Zone, 0)
	m.zones.Store(&empty)
	return m
}

// SetZones replaces the zone snapshot. The swap is atomic: in-flight
// Observe calls keep the snapshot they loaded, subsequent calls see the
// new set.
func (m *Monitor) SetZones(zones []models.Zone) {
	snapshot := make([]models.Zone, len(zones))
	copy(snapshot, zones)
	m.zones.Store(&snapshot)
	logging.Debug().Int("zones", len(snapshot)).Msg("geofence zone set refreshed")
}

// Zones returns the active zones in the current snapshot.
func (m *Monitor) Zones() []models.Zone {
	snapshot := *m.zones.Load()
	out := make([]models.Zone, 0, len(snapshot))
	for _, z := range snapshot {
		if z.Active {
			out = append(out, z)
		}
	}
	return out
}

// Observe processes one location sample for an entity and returns the
// transition events it caused, in zone-snapshot order.
//
// A sequence number not strictly greater than the entity's last processed
// sequence is a stale sample: it is logged, causes no state change, and
// returns an empty slice with a nil error. Invalid coordinates return
// geo.ErrInvalidCoordinate. Unknown entities are created implicitly; the
// first sample establishes baseline membership, emitting an entered event
// for every zone the entity already starts inside (and never a synthetic
// exited event).
func (m *Monitor) Observe(entityID string, coord geo.Coordinate, at time.Time, sequence uint64) ([]models.TransitionEvent, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}

	st := m.entity(entityID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.seen && sequence <= st.lastKnown.Sequence {
		logging.Debug().
			Str("entity", entityID).
			Uint64("sequence", sequence).
			Uint64("last_sequence", st.lastKnown.Sequence).
			Msg("stale location sample discarded")
		metrics.RecordStaleSample()
		return []models.TransitionEvent{}, nil
	}

	snapshot := *m.zones.Load()
	events := make([]models.TransitionEvent, 0)
	current := make(map[string]bool, len(st.inside))

	for _, z := range snapshot {
		if !z.Active {
			continue
		}
		d, err := geo.Distance(coord, z.Center)
		if err != nil {
			// Zone geometry is validated on refresh; a bad center is a
			// data problem, not a caller error.
			logging.Warn().Err(err).Str("zone", z.ID).Msg("skipping zone with invalid center")
			continue
		}

		wasInside := st.inside[z.ID]
		switch {
		case !wasInside && d <= z.RadiusMeters:
			current[z.ID] = true
			events = append(events, models.TransitionEvent{
				EntityID:   entityID,
				ZoneID:     z.ID,
				ZoneName:   z.Name,
				Direction:  models.DirectionEntered,
				At:         at,
				Coordinate: coord,
			})
		case wasInside && d > z.RadiusMeters*m.hysteresis:
			events = append(events, models.TransitionEvent{
				EntityID:   entityID,
				ZoneID:     z.ID,
				ZoneName:   z.Name,
				Direction:  models.DirectionExited,
				At:         at,
				Coordinate: coord,
			})
		case wasInside:
			// Still inside, or within the hysteresis band.
			current[z.ID] = true
		}
	}

	// Membership in zones that left the snapshot drops silently: removal
	// of a zone is not a boundary crossing.
	st.inside = current
	st.lastKnown = models.LocationSample{
		EntityID:   entityID,
		Coordinate: coord,
		At:         at,
		Sequence:   sequence,
	}
	st.seen = true

	for _, ev := range events {
		metrics.RecordTransition(string(ev.Direction))
	}
	return events, nil
}

// LastKnown returns the entity's last accepted sample, if any.
func (m *Monitor) LastKnown(entityID string) (models.LocationSample, bool) {
	m.mu.Lock()
	st, ok := m.entities[entityID]
	m.mu.Unlock()
	if !ok {
		return models.LocationSample{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.seen {
		return models.LocationSample{}, false
	}
	return st.lastKnown, true
}

// Membership returns the active zones whose radius contains coord.
// Used by the zone-check API; it does not touch entity state.
func (m *Monitor) Membership(coord geo.Coordinate) ([]models.Zone, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}

	var inside []models.Zone
	for _, z := range *m.zones.Load() {
		if !z.Active {
			continue
		}
		d, err := geo.Distance(coord, z.Center)
		if err != nil {
			continue
		}
		if d <= z.RadiusMeters {
			inside = append(inside, z)
		}
	}
	return inside, nil
}

// NearestZone returns the active zone whose center is closest to coord
// and the distance to it. ok is false when the snapshot has no active zones.
func (m *Monitor) NearestZone(coord geo.Coordinate) (zone models.Zone, distance float64, ok bool, err error) {
	if err := coord.Validate(); err != nil {
		return models.Zone{}, 0, false, err
	}

	best := -1.0
	for _, z := range *m.zones.Load() {
		if !z.Active {
			continue
		}
		d, derr := geo.Distance(coord, z.Center)
		if derr != nil {
			continue
		}
		if best < 0 || d < best {
			best = d
			zone = z
		}
	}
	if best < 0 {
		return models.Zone{}, 0, false, nil
	}
	return zone, best, true, nil
}

// entity returns the state for entityID, creating it on first observation.
func (m *Monitor) entity(entityID string) *entityState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.entities[entityID]
	if !ok {
		st = &entityState{inside: make(map[string]bool)}
		m.entities[entityID] = st
	}
	return st
}
