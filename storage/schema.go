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
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/poiesic/chatstore/pagination"
)

// Key is the identity of a stored entity.
type Key interface {
	comparable
	String() string
	IsZero() bool
}

// Entity is a value a repository can store.
type Entity interface {
	Validate() error
}

// Field is a sortable attribute of an entity.
type Field[T any] struct {
	// Name is the value accepted in pagination.Sort.By.
	Name string
	// Column is the relational column holding the attribute.
	Column string
	// Compare orders two entities by the attribute alone.
	Compare func(a, b T) int
}

// Unique is a uniqueness constraint over one attribute.
type Unique[T any] struct {
	Name   string
	Column string
	Value  func(T) string
}

// Sequence describes generated identifiers: a zero key is replaced with the
// next value of the entity's sequence on save.
type Sequence[T any, K Key] struct {
	Value  func(K) int64
	Key    func(int64) K
	Assign func(T, K) T
}

// Next returns the key following the high-water mark high.
func (q *Sequence[T, K]) Next(entity string, high int64) (K, error) {
	if high == math.MaxInt64 {
		var zero K
		return zero, SequenceExhausted(entity)
	}
	return q.Key(high + 1), nil
}

// SequenceExhausted reports that entity has no identifiers left to assign.
func SequenceExhausted(entity string) error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidQuery, ErrSequenceExhausted, entity)
}

// Schema describes one entity kind to every backend: how to key it, which
// fields it can be sorted by and which attributes must be unique.
type Schema[T any, K Key] struct {
	Entity      string
	Table       string
	KeyField    string
	KeyOf       func(T) K
	CompareKeys func(a, b K) int
	Sequence    *Sequence[T, K]
	Fields      []Field[T]
	Unique      []Unique[T]

	// Normalize, when set, rewrites a value into the form every backend
	// returns it in.
	Normalize func(T) T

	// Clone, when set, copies the memory a value refers to.
	Clone func(T) T
}

// Copy returns v sharing no mutable memory with the original.
func (s Schema[T, K]) Copy(v T) T {
	if s.Clone == nil {
		return v
	}
	return s.Clone(v)
}

// Canonical returns v in the form every backend stores it.
func (s Schema[T, K]) Canonical(v T) T {
	if s.Normalize == nil {
		return v
	}
	return s.Normalize(v)
}

// Field returns the sortable field called name. The empty name and the key
// field's name select the key.
func (s Schema[T, K]) Field(name string) (Field[T], error) {
	if name == "" || name == s.KeyField {
		return Field[T]{Name: s.KeyField, Column: s.KeyField, Compare: s.compareByKey}, nil
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return Field[T]{}, fmt.Errorf("%w: %s cannot be sorted by %q", ErrInvalidQuery, s.Entity, name)
}

// SortFields lists every accepted Sort.By value, key first.
func (s Schema[T, K]) SortFields() []string {
	names := []string{s.KeyField}
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

func (s Schema[T, K]) compareByKey(a, b T) int {
	return s.CompareKeys(s.KeyOf(a), s.KeyOf(b))
}

// Comparator returns the total order selected by sort: the sort field in the
// requested direction, ties broken by ascending key.
func (s Schema[T, K]) Comparator(sort pagination.Sort) (func(a, b T) int, error) {
	f, err := s.Field(sort.By)
	if err != nil {
		return nil, err
	}
	desc := sort.Descending()
	return func(a, b T) int {
		c := f.Compare(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return s.compareByKey(a, b)
	}, nil
}

// Order sorts items in place by sort.
func (s Schema[T, K]) Order(items []T, sort pagination.Sort) error {
	cmpFn, err := s.Comparator(sort)
	if err != nil {
		return err
	}
	slices.SortFunc(items, cmpFn)
	return nil
}

// SortKeys sorts keys ascending.
func (s Schema[T, K]) SortKeys(keys []K) {
	slices.SortFunc(keys, s.CompareKeys)
}

// Paginate orders a filtered result set and cuts the window selected by r.
// Backends without a query engine use it for every paged query.
func Paginate[T any, K Key](s Schema[T, K], items []T, r pagination.Request) (pagination.Page[T], error) {
	if err := r.Validate(); err != nil {
		return pagination.Page[T]{}, err
	}
	if err := s.Order(items, r.Sort); err != nil {
		return pagination.Page[T]{}, err
	}
	return pagination.Slice(r, items), nil
}

// WindowRequest builds the request behind FindFirst and FindLast.
func WindowRequest(page, size int, newestFirst bool) (pagination.Request, error) {
	dir := pagination.Asc
	if newestFirst {
		dir = pagination.Desc
	}
	r, err := pagination.NewRequest(page, size, pagination.Sort{Direction: dir})
	if err != nil {
		return pagination.Request{}, err
	}
	return r.WithoutCount(), nil
}

// Compare helpers for schema fields.

func byString[T any](get func(T) string) func(a, b T) int {
	return func(a, b T) int { return cmp.Compare(get(a), get(b)) }
}

func byInt[T any](get func(T) int64) func(a, b T) int {
	return func(a, b T) int { return cmp.Compare(get(a), get(b)) }
}
