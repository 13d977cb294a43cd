// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package geofence

import (
	"context"
	"time"

	"github.com/tomtom215/sentinel/internal/logging"
)

// Refresher periodically reloads the monitor's zone snapshot from a
// ZoneSource. It implements suture.Service and is run under the
// messaging layer of the supervisor tree.
type Refresher struct {
	monitor  *Monitor
	source   ZoneSource
	interval time.Duration
}

// NewRefresher creates a Refresher. Interval must be positive.
func NewRefresher(monitor *Monitor, source ZoneSource, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{monitor: monitor, source: source, interval: interval}
}

// Serve implements suture.Service. It refreshes once immediately so the
// monitor starts with a populated snapshot, then on every tick until the
// context is canceled. A failed refresh keeps the previous snapshot.
func (r *Refresher) Serve(ctx context.Context) error {
	if err := r.monitor.Refresh(ctx, r.source); err != nil {
		logging.Warn().Err(err).Msg("initial zone refresh failed, keeping empty snapshot")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.monitor.Refresh(ctx, r.source); err != nil {
				logging.Warn().Err(err).Msg("zone refresh failed, keeping previous snapshot")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (r *Refresher) String() string {
	return "zone-refresher"
}
