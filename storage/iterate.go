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
	"context"

	"github.com/poiesic/chatstore/pagination"
)

const (
	// DefaultBatchSize is the default number of items fetched per page.
	DefaultBatchSize = 100
)

// PageFunc fetches one page inside a unit of work.
type PageFunc[T any] func(ctx context.Context, uow *UnitOfWork, r pagination.Request) (pagination.Page[T], error)

// PageIterator walks a paged query from the first page to the last. Every
// page is read in its own unit of work, so concurrent writers are not blocked
// for the whole walk.
type PageIterator[T any] struct {
	manager   *Manager
	fetch     PageFunc[T]
	sort      pagination.Sort
	batchSize int
}

// NewPageIterator creates a page iterator.
// batchSize: number of items per page, capped at pagination.MaxSize
func NewPageIterator[T any](m *Manager, batchSize int, sort pagination.Sort, fetch PageFunc[T]) *PageIterator[T] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PageIterator[T]{
		manager:   m,
		fetch:     fetch,
		sort:      sort,
		batchSize: min(batchSize, pagination.MaxSize),
	}
}

// ForEach calls fn with every non-empty page in order. Iteration stops on the
// first error from fn or the query, or when ctx is cancelled.
func (it *PageIterator[T]) ForEach(ctx context.Context, fn func([]T) error) error {
	for page := 1; ; page++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r, err := pagination.NewRequest(page, it.batchSize, it.sort)
		if err != nil {
			return err
		}
		batch, err := Run(ctx, it.manager, IsolationDefault, func(ctx context.Context, uow *UnitOfWork) (pagination.Page[T], error) {
			return it.fetch(ctx, uow, r.WithoutCount())
		})
		if err != nil {
			return err
		}
		if len(batch.Items) > 0 {
			if err := fn(batch.Items); err != nil {
				return err
			}
		}
		if batch.Info.NextPage == nil {
			return nil
		}
	}
}

// AllPages adapts a repository's FindPage to a PageFunc.
func AllPages[T any, K Key](repo func(*UnitOfWork) Repository[T, K]) PageFunc[T] {
	return func(ctx context.Context, uow *UnitOfWork, r pagination.Request) (pagination.Page[T], error) {
		return repo(uow).FindPage(ctx, r)
	}
}
