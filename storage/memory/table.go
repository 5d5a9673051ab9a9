package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
)

// table holds the rows of one entity kind.
type table[T storage.Entity, K storage.Key] struct {
	schema storage.Schema[T, K]
	rows   map[K]T
	// high-water mark of generated and explicitly saved keys
	seq int64
}

func newTable[T storage.Entity, K storage.Key](schema storage.Schema[T, K]) *table[T, K] {
	return &table[T, K]{schema: schema, rows: make(map[K]T)}
}

// sortedKeys returns every key in ascending order.
func (t *table[T, K]) sortedKeys() []K {
	keys := slices.Collect(maps.Keys(t.rows))
	t.schema.SortKeys(keys)
	return keys
}

// scan returns copies of the rows matching keep in ascending key order.
func (t *table[T, K]) scan(keep func(T) bool) []T {
	var out []T
	for _, k := range t.sortedKeys() {
		if v := t.rows[k]; keep == nil || keep(v) {
			out = append(out, t.schema.Copy(v))
		}
	}
	return out
}

// get returns a copy of the row stored under key.
func (t *table[T, K]) get(key K) (T, bool) {
	v, ok := t.rows[key]
	if !ok {
		return v, false
	}
	return t.schema.Copy(v), true
}

// repo implements storage.Repository over a table within one unit.
type repo[T storage.Entity, K storage.Key] struct {
	tx *tx
	t  *table[T, K]
}

func all[T any](T) bool { return true }

func (r repo[T, K]) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.tx.active()
}

func (r repo[T, K]) Save(ctx context.Context, v T) (T, error) {
	var zero T
	if err := r.ready(ctx); err != nil {
		return zero, err
	}
	s := r.t.schema
	v = s.Canonical(v)
	key := s.KeyOf(v)
	if key.IsZero() {
		if s.Sequence == nil {
			return zero, fmt.Errorf("%w: %s requires a %s", storage.ErrInvalidQuery, s.Entity, s.KeyField)
		}
		next, err := s.Sequence.Next(s.Entity, r.t.seq)
		if err != nil {
			return zero, err
		}
		key = next
		v = s.Sequence.Assign(v, key)
	}
	if err := r.checkUnique(key, v); err != nil {
		return zero, err
	}

	prev, existed := r.t.rows[key]
	r.t.rows[key] = s.Copy(v)
	r.tx.onRollback(func() {
		if existed {
			r.t.rows[key] = prev
		} else {
			delete(r.t.rows, key)
		}
	})
	if s.Sequence != nil {
		if n := s.Sequence.Value(key); n > r.t.seq {
			prevSeq := r.t.seq
			r.t.seq = n
			r.tx.onRollback(func() { r.t.seq = prevSeq })
		}
	}
	storage.RecordSaved(r.tx.journal, s, s.Copy(v), existed)
	return v, nil
}

func (r repo[T, K]) checkUnique(key K, v T) error {
	for _, u := range r.t.schema.Unique {
		want := u.Value(v)
		for k, other := range r.t.rows {
			if k != key && u.Value(other) == want {
				return &storage.ConflictError{Entity: r.t.schema.Entity, Constraint: u.Name, Value: want}
			}
		}
	}
	return nil
}

func (r repo[T, K]) SaveAll(ctx context.Context, vs []T) ([]T, error) {
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		saved, err := r.Save(ctx, v)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}

func (r repo[T, K]) FindByID(ctx context.Context, key K) (T, bool, error) {
	var zero T
	if err := r.ready(ctx); err != nil {
		return zero, false, err
	}
	v, ok := r.t.get(key)
	return v, ok, nil
}

func (r repo[T, K]) FindAll(ctx context.Context) ([]T, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	return r.t.scan(nil), nil
}

func (r repo[T, K]) FindFirst(ctx context.Context, page, size int) ([]T, error) {
	return r.window(ctx, page, size, false)
}

func (r repo[T, K]) FindLast(ctx context.Context, page, size int) ([]T, error) {
	return r.window(ctx, page, size, true)
}

func (r repo[T, K]) window(ctx context.Context, page, size int, newestFirst bool) ([]T, error) {
	req, err := storage.WindowRequest(page, size, newestFirst)
	if err != nil {
		return nil, err
	}
	p, err := r.page(ctx, nil, req)
	if err != nil {
		return nil, err
	}
	return p.Items, nil
}

func (r repo[T, K]) FindPage(ctx context.Context, req pagination.Request) (pagination.Page[T], error) {
	return r.page(ctx, nil, req)
}

// page filters with keep and windows the ordered result.
func (r repo[T, K]) page(ctx context.Context, keep func(T) bool, req pagination.Request) (pagination.Page[T], error) {
	if err := r.ready(ctx); err != nil {
		return pagination.Page[T]{}, err
	}
	return storage.Paginate(r.t.schema, r.t.scan(keep), req)
}

func (r repo[T, K]) FindAllByID(ctx context.Context, keys []K) ([]T, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	var out []T
	for _, k := range r.uniqueKeys(keys) {
		if v, ok := r.t.get(k); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r repo[T, K]) uniqueKeys(keys []K) []K {
	sorted := slices.Clone(keys)
	r.t.schema.SortKeys(sorted)
	return slices.Compact(sorted)
}

func (r repo[T, K]) DeleteByID(ctx context.Context, key K) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	r.remove(key)
	return nil
}

// remove deletes key when present and reports whether it did.
func (r repo[T, K]) remove(key K) bool {
	prev, ok := r.t.rows[key]
	if !ok {
		return false
	}
	delete(r.t.rows, key)
	r.tx.onRollback(func() { r.t.rows[key] = prev })
	storage.RecordRemoved(r.tx.journal, r.t.schema, r.t.schema.Copy(prev))
	return true
}

// removeWhere deletes the rows matching keep in ascending key order.
func (r repo[T, K]) removeWhere(ctx context.Context, keep func(T) bool) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, v := range r.t.scan(keep) {
		if r.remove(r.t.schema.KeyOf(v)) {
			n++
		}
	}
	return n, nil
}

func (r repo[T, K]) ExistsByID(ctx context.Context, key K) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	_, ok := r.t.rows[key]
	return ok, nil
}

func (r repo[T, K]) Count(ctx context.Context) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	return int64(len(r.t.rows)), nil
}

func (r repo[T, K]) Delete(ctx context.Context, v T) error {
	return r.DeleteByID(ctx, r.t.schema.KeyOf(v))
}

func (r repo[T, K]) DeleteAll(ctx context.Context) error {
	_, err := r.removeWhere(ctx, all[T])
	return err
}

func (r repo[T, K]) DeleteAllByID(ctx context.Context, keys []K) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	for _, k := range r.uniqueKeys(keys) {
		r.remove(k)
	}
	return nil
}
