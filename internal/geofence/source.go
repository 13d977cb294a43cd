// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package geofence

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/models"
)

// ZoneSource supplies the active zone set. The persistence collaborator
// implements this; the monitor has no write path to zones.
type ZoneSource interface {
	ListActiveZones(ctx context.Context) ([]models.Zone, error)
}

// Refresh pulls the current zone set from src into the monitor, validating
// geometry before the swap so a bad zone never enters a snapshot.
func (m *Monitor) Refresh(ctx context.Context, src ZoneSource) error {
	zones, err := src.ListActiveZones(ctx)
	if err != nil {
		return fmt.Errorf("list active zones: %w", err)
	}

	valid := make([]models.Zone, 0, len(zones))
	for _, z := range zones {
		if err := z.Center.Validate(); err != nil {
			logging.Warn().Err(err).Str("zone", z.ID).Msg("rejecting zone with invalid center")
			continue
		}
		if z.RadiusMeters <= 0 {
			logging.Warn().Float64("radius", z.RadiusMeters).Str("zone", z.ID).Msg("rejecting zone with non-positive radius")
			continue
		}
		valid = append(valid, z)
	}

	m.SetZones(valid)
	return nil
}

// StaticSource is a fixed in-memory ZoneSource. It backs deployments where
// the zone catalog is seeded from configuration, and doubles as the test
// collaborator.
type StaticSource struct {
	mu    sync.RWMutex
	zones []models.Zone
}

// NewStaticSource creates a StaticSource with the given zones.
func NewStaticSource(zones []models.Zone) *StaticSource {
	s := &StaticSource{}
	s.Replace(zones)
	return s
}

// Replace swaps the source's zone list.
func (s *StaticSource) Replace(zones []models.Zone) {
	dup := make([]models.Zone, len(zones))
	copy(dup, zones)
	s.mu.Lock()
	s.zones = dup
	s.mu.Unlock()
}

// ListActiveZones implements ZoneSource.
func (s *StaticSource) ListActiveZones(_ context.Context) ([]models.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		if z.Active {
			out = append(out, z)
		}
	}
	return out, nil
}
