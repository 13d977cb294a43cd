// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
)

const (
	pendingPrefix = "pending:"
	deadPrefix    = "dead:"
	seqKey        = "queue-seq"
	seqBandwidth  = 128
)

var (
	// ErrQueueClosed is returned for operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrDrainInProgress is returned when a drain is attempted while
	// another drain is already running.
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrNotFound is returned when a dead letter id does not exist.
	ErrNotFound = errors.New("mutation not found")
)

// Mutation is one durable write-intent.
//
// ID is generated at enqueue time and travels with the mutation forever;
// sinks use it to deduplicate replays after partial failures.
type Mutation struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`

	seq uint64
}

// Queue is a durable FIFO of mutations backed by BadgerDB.
//
// Keys are zero-padded sequence numbers under a pending: prefix, so
// Badger's lexicographic iteration order is exactly enqueue order. The
// sequence survives restarts, so mutations enqueued across process
// lifetimes still drain oldest-first.
type Queue struct {
	db     *badger.DB
	seq    *badger.Sequence
	config Config

	draining atomic.Bool
	closed   atomic.Bool
	wg       sync.WaitGroup
	stopGC   chan struct{}
}

// Open creates or reopens the mutation queue at config.Path.
func Open(config Config) (*Queue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.Path).
		WithSyncWrites(config.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open queue sequence: %w", err)
	}

	q := &Queue{
		db:     db,
		seq:    seq,
		config: config,
		stopGC: make(chan struct{}),
	}

	if config.GCInterval > 0 {
		q.wg.Add(1)
		go q.gcLoop()
	}

	depth, err := q.Depth()
	if err == nil {
		metrics.SetQueueDepth(int64(depth))
		logging.Info().
			Int("pending", depth).
			Str("path", config.Path).
			Msg("Mutation queue opened")
	}

	return q, nil
}

// Enqueue records a mutation durably and returns it with its assigned id.
// The payload is serialized immediately; callers must not rely on later
// changes to it being visible.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (*Mutation, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize mutation payload: %w", err)
	}

	seq, err := q.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	m := &Mutation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
		seq:       seq,
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize mutation: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(seq), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist mutation: %w", err)
	}

	metrics.RecordEnqueue()
	if depth, derr := q.Depth(); derr == nil {
		metrics.SetQueueDepth(int64(depth))
	}

	logging.Debug().
		Str("mutation_id", m.ID).
		Str("kind", kind).
		Uint64("seq", seq).
		Msg("Mutation enqueued")

	return m, nil
}

// Pending returns all pending mutations in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]*Mutation, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	return q.scan(ctx, pendingPrefix)
}

// DeadLetters returns mutations that exhausted their retry budget, in
// original enqueue order.
func (q *Queue) DeadLetters(ctx context.Context) ([]*Mutation, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	return q.scan(ctx, deadPrefix)
}

// RemoveDeadLetter deletes a dead-lettered mutation by id after an
// operator has inspected or manually applied it.
func (q *Queue) RemoveDeadLetter(ctx context.Context, id string) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	dead, err := q.scan(ctx, deadPrefix)
	if err != nil {
		return err
	}
	for _, m := range dead {
		if m.ID == id {
			return q.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(deadKey(m.seq))
			})
		}
	}
	return ErrNotFound
}

// Depth returns the number of pending mutations.
func (q *Queue) Depth() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(pendingPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the sequence lease and closes the database. Safe to call
// more than once.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(q.stopGC)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(q.config.CloseTimeout):
		logging.Warn().Msg("Timed out waiting for queue background work")
	}

	var firstErr error
	if err := q.seq.Release(); err != nil {
		firstErr = fmt.Errorf("failed to release queue sequence: %w", err)
	}
	if err := q.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close queue database: %w", err)
	}
	return firstErr
}

// scan iterates one key prefix and decodes each mutation, restoring the
// sequence number from the key so later writes target the right entry.
func (q *Queue) scan(ctx context.Context, prefix string) ([]*Mutation, error) {
	var out []*Mutation
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq, err := seqFromKey(item.Key(), prefix)
			if err != nil {
				logging.Warn().Err(err).Msg("Skipping malformed queue key")
				continue
			}
			var m Mutation
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("failed to decode mutation: %w", err)
			}
			m.seq = seq
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ack removes a successfully applied mutation.
func (q *Queue) ack(m *Mutation) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey(m.seq))
	})
	if err != nil {
		return fmt.Errorf("failed to ack mutation %s: %w", m.ID, err)
	}
	metrics.RecordAck()
	return nil
}

// recordAttempt persists the updated attempt counter and failure detail
// so progress survives a crash mid-drain.
func (q *Queue) recordAttempt(m *Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize mutation: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(m.seq), data)
	})
}

// moveToDead transfers a mutation from the pending set to the dead-letter
// set in a single transaction.
func (q *Queue) moveToDead(m *Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize mutation: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(pendingKey(m.seq)); err != nil {
			return err
		}
		return txn.Set(deadKey(m.seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter mutation %s: %w", m.ID, err)
	}
	metrics.RecordDeadLetter()
	logging.Error().
		Str("mutation_id", m.ID).
		Str("kind", m.Kind).
		Int("attempts", m.Attempts).
		Str("last_error", m.LastError).
		Msg("Mutation moved to dead-letter set")
	return nil
}

func (q *Queue) gcLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Badger returns ErrNoRewrite when there is nothing to collect.
			if err := q.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("Queue value log GC failed")
			}
		case <-q.stopGC:
			return
		}
	}
}

func pendingKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", pendingPrefix, seq))
}

func deadKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", deadPrefix, seq))
}

func seqFromKey(key []byte, prefix string) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(key[len(prefix):]), "%020d", &seq)
	if err != nil {
		return 0, fmt.Errorf("malformed queue key %q: %w", key, err)
	}
	return seq, nil
}
