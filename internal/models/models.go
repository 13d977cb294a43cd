// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package models defines the value types shared between the geofence monitor,
// event bus, mutation queue, and the HTTP/WebSocket surfaces.
//
// These are carried as snapshots: the engine never mutates an Alert or
// ChatMessage after constructing it, and persistence is owned by the
// surrounding product's stores, not by this module.
package models

import (
	"time"

	"github.com/tomtom215/sentinel/internal/geo"
)

// ZoneCategory tags a zone with the kind of facility it covers.
type ZoneCategory string

// Zone categories sourced from the safe-zone catalog.
const (
	ZonePolice        ZoneCategory = "police"
	ZoneHospital      ZoneCategory = "hospital"
	ZoneTouristCenter ZoneCategory = "tourist_center"
)

// Zone is a named circular geographic region. Zones are externally sourced
// and read-mostly; the monitor never mutates zone geometry.
type Zone struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Category     ZoneCategory   `json:"category"`
	Center       geo.Coordinate `json:"center"`
	RadiusMeters float64        `json:"radius_meters"`
	Active       bool           `json:"active"`
}

// TransitionDirection is the direction of a zone boundary crossing.
type TransitionDirection string

const (
	// DirectionEntered fires when an entity's location first falls within
	// a zone's radius.
	DirectionEntered TransitionDirection = "entered"

	// DirectionExited fires when an entity moves past the zone's exit
	// boundary (radius plus hysteresis margin).
	DirectionExited TransitionDirection = "exited"
)

// TransitionEvent is a discrete zone entry/exit notification for an
// (entity, zone) pair. Produced by the monitor, never mutated, consumed
// once by the bus.
type TransitionEvent struct {
	EntityID   string              `json:"entity_id"`
	ZoneID     string              `json:"zone_id"`
	ZoneName   string              `json:"zone_name,omitempty"`
	Direction  TransitionDirection `json:"direction"`
	At         time.Time           `json:"at"`
	Coordinate geo.Coordinate      `json:"coordinate"`
}

// LocationSample is an entity's last observed position.
type LocationSample struct {
	EntityID   string         `json:"entity_id"`
	Coordinate geo.Coordinate `json:"coordinate"`
	At         time.Time      `json:"at"`
	Sequence   uint64         `json:"sequence"`
}

// AlertType classifies how an alert was raised.
type AlertType string

// Alert types carried on the bus.
const (
	AlertSOS             AlertType = "SOS"
	AlertGeofence        AlertType = "geofence"
	AlertHealth          AlertType = "health"
	AlertWeather         AlertType = "weather"
	AlertManual          AlertType = "manual"
	AlertBehaviorAnomaly AlertType = "behavior_anomaly"
)

// AlertSeverity ranks an alert's urgency.
type AlertSeverity string

// Alert severities, lowest to highest.
const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert lifecycle states.
const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
	StatusFalseAlarm   AlertStatus = "false_alarm"
)

// Valid reports whether s is a known lifecycle state.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved, StatusFalseAlarm:
		return true
	}
	return false
}

// Alert is a snapshot of a safety alert. The alert record itself is owned
// by the persistence collaborator; the bus only carries copies.
type Alert struct {
	ID          string         `json:"id"`
	SubjectID   string         `json:"subject_id"`
	Type        AlertType      `json:"type"`
	Severity    AlertSeverity  `json:"severity"`
	Status      AlertStatus    `json:"status"`
	Location    geo.Coordinate `json:"location"`
	Message     string         `json:"message"`
	ResponderID string         `json:"responder_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	AckedAt     *time.Time     `json:"acked_at,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// ChatMessage is a snapshot of one message in an alert's chat room.
// Translation of the text is handled by a collaborator before the message
// reaches the bus.
type ChatMessage struct {
	ID         string    `json:"id"`
	AlertID    string    `json:"alert_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role,omitempty"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sent_at"`
}
