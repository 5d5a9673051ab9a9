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

// Package storagetest is the conformance suite every storage backend runs.
//
// The suite drives a backend only through storage.Manager and asserts the
// observable behaviour fixed by the repository contracts: read-your-writes,
// generated identifiers, rollback, conflicts, pagination and ordering on every
// sortable field, relationship queries, expiry cleanup and change events. A
// backend that passes it is interchangeable with every other backend that does.
//
// Usage from a backend's tests:
//
//	func TestConformance(t *testing.T) {
//	    storagetest.Run(t, func(t *testing.T) storage.Backend {
//	        b, err := memory.New()
//	        require.NoError(t, err)
//	        return b
//	    })
//	}
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/storage"
)

// Factory returns a new, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Backend

// Run runs the whole suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, h *harness)
	}{
		{"ReadYourWrites", testReadYourWrites},
		{"Upsert", testUpsert},
		{"GeneratedIDs", testGeneratedIDs},
		{"KeyedLookups", testKeyedLookups},
		{"Deletes", testDeletes},
		{"TimeBounds", testTimeBounds},
		{"SequenceExhaustion", testSequenceExhaustion},
		{"ReturnedValuesAreCopies", testReturnedValuesAreCopies},
		{"RollbackOnError", testRollbackOnError},
		{"ExplicitRollback", testExplicitRollback},
		{"RollbackOnPanic", testRollbackOnPanic},
		{"ConflictForcesRollback", testConflictForcesRollback},
		{"CallerErrorsDoNotForceRollback", testCallerErrorsDoNotForceRollback},
		{"NestedRunRejected", testNestedRunRejected},
		{"IsolationLevels", testIsolationLevels},
		{"ConcurrentWriters", testConcurrentWriters},
		{"FiftySevenItems", testFiftySevenItems},
		{"FirstAndLastWindows", testFirstAndLastWindows},
		{"UncountedPages", testUncountedPages},
		{"SortParity", testSortParity},
		{"UnknownSortField", testUnknownSortField},
		{"UserQueries", testUserQueries},
		{"ChannelQueries", testChannelQueries},
		{"MessageQueries", testMessageQueries},
		{"SessionAndTokenQueries", testSessionAndTokenQueries},
		{"InvitationQueries", testInvitationQueries},
		{"DeleteExpired", testDeleteExpired},
		{"EventsAfterCommit", testEventsAfterCommit},
		{"NoEventsOnRollback", testNoEventsOnRollback},
		{"RemovalEvents", testRemovalEvents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newHarness(t, newBackend))
		})
	}
}

type harness struct {
	t       *testing.T
	manager *storage.Manager
	events  *Recorder
}

func newHarness(t *testing.T, newBackend Factory) *harness {
	rec := &Recorder{}
	m, err := storage.NewManager(newBackend(t), storage.WithPublisher(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return &harness{t: t, manager: m, events: rec}
}

// do runs fn in a unit that must commit.
func (h *harness) do(fn func(ctx context.Context, uow *storage.UnitOfWork) error) {
	h.t.Helper()
	require.NoError(h.t, h.manager.Do(context.Background(), storage.IsolationDefault, fn))
}

// count returns the number of stored entities reported by counter.
func (h *harness) count(counter func(ctx context.Context, uow *storage.UnitOfWork) (int64, error)) int64 {
	h.t.Helper()
	n, err := storage.Run(context.Background(), h.manager, storage.IsolationDefault, counter)
	require.NoError(h.t, err)
	return n
}

func userCount(ctx context.Context, uow *storage.UnitOfWork) (int64, error) {
	return uow.Users().Count(ctx)
}
