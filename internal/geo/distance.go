// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package geo provides coordinate validation and great-circle distance
// computation used by the geofence monitor and the zone catalog API.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned for NaN or out-of-range coordinates.
// Use errors.Is to test for it; the wrapped message names the bad field.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is an immutable (latitude, longitude) pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the coordinate is within valid ranges:
// latitude [-90, 90], longitude [-180, 180], neither NaN.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return fmt.Errorf("%w: NaN component", ErrInvalidCoordinate)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidCoordinate, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters,
// computed with the haversine formula. It is deterministic, symmetric
// within floating-point tolerance, and has no side effects.
func Distance(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude), nil
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
