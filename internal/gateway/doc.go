// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package gateway bridges WebSocket connections to the event bus.
//
// Each accepted connection gets a fresh connection id and a bus
// attachment. Clients manage their own topic set with join/leave
// messages; a reconnecting client starts with no subscriptions and must
// rejoin its topics explicitly. Events the bus delivers while the
// connection is live are forwarded as JSON frames; buffer overflow on
// the bus side surfaces to the client as a gap frame carrying the
// number of dropped events.
//
// Disconnect, clean or not, detaches the connection from the bus, which
// releases every subscription and stops delivery immediately.
package gateway
