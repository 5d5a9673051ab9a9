// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// EventKind classifies a change to a stored entity.
type EventKind string

const (
	// EntityPersisted is recorded when a value is saved under a new key.
	EntityPersisted EventKind = "EntityPersisted"
	// EntityUpdated is recorded when a value replaces an existing one.
	EntityUpdated EventKind = "EntityUpdated"
	// EntityRemoved is recorded once per removed entity, carrying the removed value.
	EntityRemoved EventKind = "EntityRemoved"
)

// Event is one change made by a committed unit of work.
type Event struct {
	ID       string
	Kind     EventKind
	Entity   string
	Key      string
	Value    any
	Sequence uint64
	Position int
}

// Batch is the ordered set of events of one committed unit of work.
type Batch struct {
	Sequence    uint64
	CommittedAt time.Time
	Isolation   Isolation
	Events      []Event
}

// Journal collects the changes made inside one backend transaction. Backends
// record into it as they write; the manager publishes its contents only after
// the transaction committed. A nil Journal discards everything.
type Journal struct {
	mu     sync.Mutex
	events []Event
}

func (j *Journal) record(kind EventKind, entity, key string, value any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, Event{Kind: kind, Entity: entity, Key: key, Value: value})
}

// Len returns the number of recorded events.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// seal stamps sequence numbers and identifiers onto the recorded events and
// returns them as a batch.
func (j *Journal) seal(seq uint64, committedAt time.Time, iso Isolation) Batch {
	j.mu.Lock()
	defer j.mu.Unlock()
	events := make([]Event, len(j.events))
	for i, e := range j.events {
		e.Sequence = seq
		e.Position = i
		e.ID = EventID(seq, i, e.Kind, e.Entity, e.Key)
		events[i] = e
	}
	return Batch{Sequence: seq, CommittedAt: committedAt, Isolation: iso, Events: events}
}

// RecordSaved records the save of v; existed reports whether its key was
// already stored before the save.
func RecordSaved[T any, K Key](j *Journal, s Schema[T, K], v T, existed bool) {
	kind := EntityPersisted
	if existed {
		kind = EntityUpdated
	}
	j.record(kind, s.Entity, s.KeyOf(v).String(), v)
}

// RecordRemoved records the removal of v.
func RecordRemoved[T any, K Key](j *Journal, s Schema[T, K], v T) {
	j.record(EntityRemoved, s.Entity, s.KeyOf(v).String(), v)
}

// EventID derives a stable identifier for an event from its commit sequence,
// its position in the batch and what it describes.
func EventID(seq uint64, position int, kind EventKind, entity, key string) string {
	h, _ := blake2b.New(16, nil)
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], seq)
	binary.BigEndian.PutUint32(buf[8:], uint32(position))
	h.Write(buf[:])
	for _, part := range []string{string(kind), entity, key} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
