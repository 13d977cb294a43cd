// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package bus

import (
	"sync"

	"github.com/tomtom215/sentinel/internal/metrics"
)

// subscriber is the per-connection delivery queue. push never blocks:
// when the buffer is full the oldest buffered envelope is discarded and
// counted, and the next delivery is preceded by a gap marker. Because
// overflow always discards the oldest entry, the gap marker sorts before
// everything still buffered, preserving FIFO order for what survives.
type subscriber struct {
	id  string
	cap int
	out chan Envelope

	mu      sync.Mutex
	buf     []Envelope
	dropped int // events discarded since the last delivered gap marker
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

func newSubscriber(id string, capacity int) *subscriber {
	return &subscriber{
		id:     id,
		cap:    capacity,
		out:    make(chan Envelope),
		buf:    make([]Envelope, 0, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends an envelope, discarding the oldest on overflow.
func (s *subscriber) push(env Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.cap {
		s.buf = s.buf[1:]
		s.dropped++
		metrics.RecordGap()
	}
	s.buf = append(s.buf, env)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next pops the next envelope to deliver. A pending gap marker is
// delivered before any buffered event.
func (s *subscriber) next() (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		env := Envelope{Gap: true, Dropped: s.dropped}
		s.dropped = 0
		return env, true
	}
	if len(s.buf) == 0 {
		return Envelope{}, false
	}
	env := s.buf[0]
	s.buf = s.buf[1:]
	return env, true
}

// pump moves envelopes from the buffer to the out channel until close.
// The blocking send is on the subscriber's own goroutine; a slow consumer
// stalls only itself while publishers keep filling (and bounding) the
// buffer.
func (s *subscriber) pump() {
	defer close(s.out)

	for {
		env, ok := s.next()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- env:
		case <-s.done:
			return
		}
	}
}

// close stops the pump and discards anything still buffered.
func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.buf = nil
	s.mu.Unlock()

	close(s.done)
}
