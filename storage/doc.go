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

// Package storage provides the storage abstraction layer for chatstore.
//
// This package defines the repository contracts, the entity schemas shared by
// every backend, and the unit of work through which all repository access
// happens. Backends (memory, relational, badger) implement Backend and Tx;
// application code never uses them directly.
//
// # Units of Work
//
// All repository calls happen inside Manager.Do or Run:
//
//	user, err := storage.Run(ctx, mgr, storage.ReadCommitted,
//	    func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
//	        return uow.Users().Save(ctx, u)
//	    })
//
// A unit ends in exactly one commit or rollback. Returning an error, calling
// UnitOfWork.Rollback, panicking, or hitting a conflict or storage failure
// rolls it back; nothing written inside it stays visible. Units do not nest.
//
// # Backend Parity
//
// The same sequence of calls produces the same items, counts and ordering on
// every backend. Schemas fix the sortable fields and uniqueness constraints,
// ties are broken by ascending key, generated identifiers continue from the
// highest key ever stored, and no backend enforces references between entities.
//
// # Change Events
//
// Backends record every write in the unit's Journal. After a successful commit
// the Manager seals the journal into a Batch and hands it to its Publisher.
// Rolled back units publish nothing.
//
// # Context Support
//
// All repository methods accept context.Context. Backends that block (the
// memory backend's writer slot, database round trips) honour cancellation.
package storage
