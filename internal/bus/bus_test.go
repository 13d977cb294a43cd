// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package bus

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/sentinel/internal/logging"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func event(kind, payload string) Event {
	return Event{Type: kind, Data: payload, At: time.Now().UTC()}
}

// receive reads one envelope with a timeout so a delivery bug fails the
// test instead of hanging it.
func receive(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatal("delivery channel closed unexpectedly")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Envelope{}
	}
}

// expectNothing asserts no envelope arrives within the grace period.
func expectNothing(t *testing.T, ch <-chan Envelope) {
	t.Helper()
	select {
	case env, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery: %+v", env)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPerTopicFIFO(t *testing.T) {
	b := New(0)
	ch, err := b.Attach("c1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer b.Detach("c1")

	if err := b.Subscribe("c1", TopicAuthorities); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		b.Publish(TopicAuthorities, event(EventTouristLocation, fmt.Sprintf("msg-%d", i)))
	}

	for i := 0; i < n; i++ {
		env := receive(t, ch)
		if env.Gap {
			t.Fatalf("unexpected gap at position %d", i)
		}
		want := fmt.Sprintf("msg-%d", i)
		if env.Event.Data != want {
			t.Fatalf("out of order: got %v at position %d, want %s", env.Event.Data, i, want)
		}
	}
}

// Publishing before a subscriber joins must not be replayed to it: an
// authority joining after "alert A created" was published must not see
// the historical event.
func TestNoRetroactiveDelivery(t *testing.T) {
	b := New(0)

	// Zero subscribers: a normal no-op, not an error.
	b.Publish(TopicAuthorities, event(EventNewAlert, "alert-A-created"))

	ch, err := b.Attach("authority-1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer b.Detach("authority-1")
	if err := b.Subscribe("authority-1", TopicAuthorities); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	expectNothing(t, ch)

	// Live events still flow.
	b.Publish(TopicAuthorities, event(EventNewAlert, "alert-B-created"))
	env := receive(t, ch)
	if env.Event.Data != "alert-B-created" {
		t.Fatalf("expected live event only, got %v", env.Event.Data)
	}
}

func TestSubscribeUnsubscribeIdempotent(t *testing.T) {
	b := New(0)
	ch, _ := b.Attach("c1")
	defer b.Detach("c1")

	if err := b.Subscribe("c1", TopicAuthorities); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Subscribe("c1", TopicAuthorities); err != nil {
		t.Fatalf("second Subscribe: %v", err)
	}
	if n := b.SubscriberCount(TopicAuthorities); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1 after double subscribe", n)
	}

	// Double subscribe must not double-deliver.
	b.Publish(TopicAuthorities, event(EventNewAlert, "once"))
	receive(t, ch)
	expectNothing(t, ch)

	b.Unsubscribe("c1", TopicAuthorities)
	b.Unsubscribe("c1", TopicAuthorities)    // absent: no-op
	b.Unsubscribe("c1", "never-subscribed")  // unknown topic: no-op
	b.Unsubscribe("ghost", TopicAuthorities) // unknown conn: no-op
	if n := b.SubscriberCount(TopicAuthorities); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0 after unsubscribe", n)
	}
}

func TestSubscribeRequiresAttach(t *testing.T) {
	b := New(0)
	if err := b.Subscribe("ghost", TopicAuthorities); !errors.Is(err, ErrNotAttached) {
		t.Errorf("expected ErrNotAttached, got %v", err)
	}
}

func TestAttachTwiceRejected(t *testing.T) {
	b := New(0)
	if _, err := b.Attach("c1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer b.Detach("c1")
	if _, err := b.Attach("c1"); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}
}

// Detaching a connection subscribed to authorities and publishing again
// must not error and must not deliver to the detached connection.
func TestDetachStopsDelivery(t *testing.T) {
	b := New(0)
	ch, _ := b.Attach("authority-1")
	if err := b.Subscribe("authority-1", TopicAuthorities); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(TopicAuthorities, event(EventNewAlert, "before"))
	receive(t, ch)

	b.Detach("authority-1")

	// Channel closes; no further envelopes.
	for env := range ch {
		t.Fatalf("delivery after detach: %+v", env)
	}

	// Publishing afterwards is a no-op, not an error.
	b.Publish(TopicAuthorities, event(EventNewAlert, "after"))

	if topics := b.Topics("authority-1"); len(topics) != 0 {
		t.Errorf("detached connection still holds subscriptions: %v", topics)
	}
	if n := b.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount = %d, want 0", n)
	}

	// Detach twice is a no-op.
	b.Detach("authority-1")
}

// A slow subscriber overflows its bounded buffer: the oldest events are
// dropped and a single gap marker with the drop count precedes whatever
// survived, so the subscriber knows it missed events.
func TestOverflowDeliversGapMarker(t *testing.T) {
	const buffer = 8
	b := New(buffer)
	ch, _ := b.Attach("slow")
	defer b.Detach("slow")
	if err := b.Subscribe("slow", TopicAuthorities); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// The pump takes one envelope in hand, so publish well past capacity
	// without reading anything.
	const total = buffer * 4
	for i := 0; i < total; i++ {
		b.Publish(TopicAuthorities, event(EventTouristLocation, fmt.Sprintf("msg-%d", i)))
	}
	// Give the pump time to settle so the drop accounting is stable.
	time.Sleep(50 * time.Millisecond)

	sawGap := false
	received := []string{}
	dropped := 0

	// Every published event is either delivered or counted by the gap.
	for len(received)+dropped < total {
		env := receive(t, ch)
		if env.Gap {
			if sawGap {
				t.Fatal("multiple gap markers for a single overflow burst")
			}
			sawGap = true
			dropped = env.Dropped
			if dropped == 0 {
				t.Fatal("gap marker with zero dropped count")
			}
			continue
		}
		received = append(received, env.Event.Data.(string))
	}

	if !sawGap {
		t.Fatal("expected a gap marker after overflow")
	}

	// Everything after the gap is in order and the newest event survived.
	for i := 1; i < len(received); i++ {
		var a, bIdx int
		fmt.Sscanf(received[i-1], "msg-%d", &a)
		fmt.Sscanf(received[i], "msg-%d", &bIdx)
		if bIdx <= a {
			t.Fatalf("post-gap ordering violated: %s then %s", received[i-1], received[i])
		}
	}
	if received[len(received)-1] != fmt.Sprintf("msg-%d", total-1) {
		t.Errorf("newest event missing, last received %s", received[len(received)-1])
	}
}

func TestTopicsAndHelpers(t *testing.T) {
	if got := PersonalTopic("t-9"); got != "personal:t-9" {
		t.Errorf("PersonalTopic = %q", got)
	}
	if got := AlertTopic("a-3"); got != "alert:a-3" {
		t.Errorf("AlertTopic = %q", got)
	}

	classes := map[string]string{
		TopicAuthorities:    "authorities",
		PersonalTopic("x"):  "personal",
		AlertTopic("y"):     "alert",
		"random-topic-name": "other",
	}
	for topic, want := range classes {
		if got := TopicClass(topic); got != want {
			t.Errorf("TopicClass(%q) = %q, want %q", topic, got, want)
		}
	}
}

// Two topics deliver independently: a connection in both rooms sees each
// room's stream in its own order (no cross-topic guarantee is asserted).
func TestMultipleTopics(t *testing.T) {
	b := New(0)
	ch, _ := b.Attach("c1")
	defer b.Detach("c1")

	personal := PersonalTopic("t-1")
	if err := b.Subscribe("c1", personal); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("c1", TopicAuthorities); err != nil {
		t.Fatal(err)
	}

	b.Publish(personal, event(EventZoneTransition, "entered"))
	b.Publish(TopicAuthorities, event(EventNewAlert, "sos"))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		env := receive(t, ch)
		got[env.Topic] = env.Event.Data.(string)
	}
	if got[personal] != "entered" || got[TopicAuthorities] != "sos" {
		t.Errorf("per-topic routing wrong: %v", got)
	}
}
