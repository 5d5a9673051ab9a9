package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/storagetest"
)

// fakeSink records delivered batches and fails the first failures calls,
// with failWith when set.
type fakeSink struct {
	name     string
	mu       sync.Mutex
	failures int
	failWith error
	calls    int
	batches  []storage.Batch
	closed   bool
}

func (s *fakeSink) Name() string {
	if s.name == "" {
		return "fake"
	}
	return s.name
}

func (s *fakeSink) Deliver(_ context.Context, batch storage.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		if s.failWith != nil {
			return s.failWith
		}
		return errors.New("sink unavailable")
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) snapshot() (calls int, batches []storage.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]storage.Batch(nil), s.batches...)
}

type outcomeKey struct {
	sink, outcome string
}

type fakeRecorder struct {
	mu     sync.Mutex
	counts map[outcomeKey]int
}

func (r *fakeRecorder) EventsDelivered(sink, outcome string, events int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[outcomeKey]int{}
	}
	r.counts[outcomeKey{sink, outcome}] += events
}

func (r *fakeRecorder) count(sink, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[outcomeKey{sink, outcome}]
}

var committedAt = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// userBatch returns a committed batch holding one persisted user.
func userBatch(t testing.TB, seq uint64) storage.Batch {
	u := storagetest.NewUser(t, 1, "alice")
	return storage.Batch{
		Sequence:    seq,
		CommittedAt: committedAt,
		Isolation:   storage.ReadCommitted,
		Events: []storage.Event{{
			ID:       storage.EventID(seq, 0, storage.EntityPersisted, storage.EntityUser, "1"),
			Kind:     storage.EntityPersisted,
			Entity:   storage.EntityUser,
			Key:      "1",
			Value:    u,
			Sequence: seq,
		}},
	}
}
