// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package bus

import "strings"

// TopicAuthorities is the monitoring room every connected authority joins.
const TopicAuthorities = "authorities"

// Topic prefixes for the dynamically-scoped rooms.
const (
	personalPrefix = "personal:"
	alertPrefix    = "alert:"
)

// Event types carried on the bus. These mirror the product's realtime
// message names so clients receive the vocabulary they already speak.
const (
	EventTouristLocation = "tourist-location"
	EventZoneTransition  = "zone-transition"
	EventNewAlert        = "new-alert"
	EventAlertUpdated    = "alert-updated"
	EventNewMessage      = "new-message"
)

// PersonalTopic returns the topic delivered only to a subject's own
// connections.
func PersonalTopic(subjectID string) string {
	return personalPrefix + subjectID
}

// AlertTopic returns the chat-room topic scoped to one alert.
func AlertTopic(alertID string) string {
	return alertPrefix + alertID
}

// TopicClass buckets a topic for metrics labels: "personal", "alert",
// "authorities", or "other".
func TopicClass(topic string) string {
	switch {
	case topic == TopicAuthorities:
		return TopicAuthorities
	case strings.HasPrefix(topic, personalPrefix):
		return "personal"
	case strings.HasPrefix(topic, alertPrefix):
		return "alert"
	default:
		return "other"
	}
}
