// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package bus implements the topic-based fan-out router at the center of
// the realtime engine. Location updates, alert lifecycle events, zone
// transitions, and chat messages are published to topics; connections
// subscribe to the topics their trust boundary allows.
//
// Delivery guarantees: per-topic FIFO, bounded per-subscriber buffering,
// and no retroactive delivery. Publish never blocks on a slow subscriber;
// when a subscriber's buffer overflows, the oldest unsent event is dropped
// and a gap marker is delivered in its place, so a subscriber always knows
// it may have missed events. Durability for alert data is the persistence
// collaborator's job - the bus only guarantees live fan-out.
package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
)

// DefaultBufferSize is the per-subscriber buffer capacity, matching the
// send-channel depth used by the gateway clients.
const DefaultBufferSize = 256

// ErrNotAttached is returned when subscribing a connection that has not
// been attached to the bus.
var ErrNotAttached = errors.New("connection not attached")

// ErrAlreadyAttached is returned when attaching a connection ID twice.
var ErrAlreadyAttached = errors.New("connection already attached")

// Event is one message carried by the bus. Data is a snapshot owned by
// the producer; the bus never mutates it.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

// Envelope is what a subscriber receives: either an event on a topic, or
// a gap marker indicating that Dropped events on that subscriber were
// discarded because its buffer overflowed.
type Envelope struct {
	Topic   string `json:"topic"`
	Gap     bool   `json:"gap,omitempty"`
	Dropped int    `json:"dropped,omitempty"`
	Event   *Event `json:"event,omitempty"`
}

// Bus routes published events to subscribed connections.
type Bus struct {
	bufferSize int

	mu     sync.RWMutex
	conns  map[string]*subscriber
	topics map[string]map[string]*subscriber // topic -> conn ID -> subscriber
}

// New creates a Bus. bufferSize <= 0 selects DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		bufferSize: bufferSize,
		conns:      make(map[string]*subscriber),
		topics:     make(map[string]map[string]*subscriber),
	}
}

// Attach registers a connection and returns its delivery channel. The
// channel is closed by Detach. Each connection ID may be attached once.
func (b *Bus) Attach(connID string) (<-chan Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.conns[connID]; exists {
		return nil, ErrAlreadyAttached
	}

	sub := newSubscriber(connID, b.bufferSize)
	b.conns[connID] = sub
	go sub.pump()

	logging.Debug().Str("conn", connID).Int("total", len(b.conns)).Msg("connection attached to bus")
	return sub.out, nil
}

// Detach removes a connection: every subscription it held is dropped,
// pending deliveries are canceled, and its delivery channel is closed.
// Detaching an unknown connection is a no-op.
func (b *Bus) Detach(connID string) {
	b.mu.Lock()
	sub, ok := b.conns[connID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.conns, connID)

	removed := 0
	for topic, subs := range b.topics {
		if _, subscribed := subs[connID]; subscribed {
			delete(subs, connID)
			removed++
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
	}
	b.mu.Unlock()

	sub.close()
	metrics.AddSubscriptions(-removed)
	logging.Debug().Str("conn", connID).Int("subscriptions_removed", removed).Msg("connection detached from bus")
}

// Subscribe adds a connection to a topic. Subscribing twice is a no-op.
func (b *Bus) Subscribe(connID, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.conns[connID]
	if !ok {
		return ErrNotAttached
	}

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*subscriber)
		b.topics[topic] = subs
	}
	if _, already := subs[connID]; already {
		return nil
	}
	subs[connID] = sub
	metrics.AddSubscriptions(1)
	return nil
}

// Unsubscribe removes a connection from a topic. Removing an absent
// subscription is a no-op, not an error.
func (b *Bus) Unsubscribe(connID, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	if _, subscribed := subs[connID]; !subscribed {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
	metrics.AddSubscriptions(-1)
}

// Publish fans an event out to every connection currently subscribed to
// the topic. It never blocks: each subscriber gets the event on its own
// bounded buffer. Publishing to a topic with no subscribers is a normal
// no-op, and the event is not retained for future subscribers.
func (b *Bus) Publish(topic string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.topics[topic]
	targets := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	metrics.RecordPublish(TopicClass(topic))
	if len(targets) == 0 {
		return
	}

	for _, sub := range targets {
		sub.push(Envelope{Topic: topic, Event: &ev})
		metrics.RecordDelivery()
	}
}

// Topics returns the topics a connection is subscribed to. Mainly for
// the gateway's observability surface and tests.
func (b *Bus) Topics(connID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	for topic, subs := range b.topics {
		if _, ok := subs[connID]; ok {
			out = append(out, topic)
		}
	}
	return out
}

// SubscriberCount returns how many connections are subscribed to a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// ConnectionCount returns how many connections are attached.
func (b *Bus) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
