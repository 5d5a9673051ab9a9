package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
)

// maxParams bounds the size of IN lists.
const maxParams = 500

func chunks(args []any) [][]any {
	var out [][]any
	for len(args) > maxParams {
		out = append(out, args[:maxParams])
		args = args[maxParams:]
	}
	if len(args) > 0 {
		out = append(out, args)
	}
	return out
}

// repo implements storage.Repository over one table within one transaction.
type repo[T storage.Entity, K storage.Key] struct {
	tx *tx
	m  *mapping[T, K]
}

func (r repo[T, K]) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.tx.active()
}

// query selects the rows matching tail, which may hold WHERE, ORDER BY and LIMIT clauses.
func (r repo[T, K]) query(ctx context.Context, tail string, args ...any) ([]T, error) {
	rows, err := r.tx.query(ctx, r.m.selectSQL()+" "+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.m.schema.Table, err)
	}
	var out []T
	for rows.Next() {
		v, err := r.m.scan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan %s: %w", r.m.schema.Entity, err)
		}
		out = append(out, v)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.m.schema.Table, err)
	}
	if r.m.hydrate != nil {
		return r.m.hydrate(ctx, r.tx, out)
	}
	return out, nil
}

func (r repo[T, K]) byKey() string {
	return " ORDER BY " + r.m.key() + " ASC"
}

func (r repo[T, K]) findOne(ctx context.Context, where string, args ...any) (T, bool, error) {
	var zero T
	if err := r.ready(ctx); err != nil {
		return zero, false, err
	}
	items, err := r.query(ctx, where+r.byKey()+" LIMIT 1", args...)
	if err != nil || len(items) == 0 {
		return zero, false, err
	}
	return items[0], true, nil
}

func (r repo[T, K]) findAll(ctx context.Context, where string, args ...any) ([]T, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	return r.query(ctx, where+r.byKey(), args...)
}

func (r repo[T, K]) Save(ctx context.Context, v T) (T, error) {
	var zero T
	if err := r.ready(ctx); err != nil {
		return zero, err
	}
	s := r.m.schema
	v = s.Canonical(v)
	key := s.KeyOf(v)
	if key.IsZero() {
		if s.Sequence == nil {
			return zero, fmt.Errorf("%w: %s requires a %s", storage.ErrInvalidQuery, s.Entity, s.KeyField)
		}
		n, err := r.nextSequence(ctx)
		if err != nil {
			return zero, err
		}
		key = s.Sequence.Key(n)
		v = s.Sequence.Assign(v, key)
	} else if s.Sequence != nil {
		if err := r.raiseSequence(ctx, s.Sequence.Value(key)); err != nil {
			return zero, err
		}
	}
	if err := r.checkUnique(ctx, key, v); err != nil {
		return zero, err
	}
	existed, err := r.exists(ctx, key)
	if err != nil {
		return zero, err
	}
	if _, err := r.tx.exec(ctx, r.m.upsertSQL(), r.m.values(v)...); err != nil {
		return zero, r.saveError(err, key, v)
	}
	if r.m.saved != nil {
		if err := r.m.saved(ctx, r.tx, v); err != nil {
			return zero, err
		}
	}
	storage.RecordSaved(r.tx.journal, s, v, existed)
	return v, nil
}

// nextSequence advances the high-water mark. A mark already at the largest
// identifier matches no row and reports ErrSequenceExhausted.
func (r repo[T, K]) nextSequence(ctx context.Context) (int64, error) {
	var n int64
	err := r.tx.queryRow(ctx,
		"UPDATE sequences SET high_water = high_water + 1 WHERE entity = ? AND high_water < ? RETURNING high_water",
		r.m.schema.Entity, int64(math.MaxInt64)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.SequenceExhausted(r.m.schema.Entity)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", r.m.schema.Entity, err)
	}
	return n, nil
}

// raiseSequence lifts the high-water mark to n when n exceeds it.
func (r repo[T, K]) raiseSequence(ctx context.Context, n int64) error {
	_, err := r.tx.exec(ctx,
		"UPDATE sequences SET high_water = ? WHERE entity = ? AND high_water < ?",
		n, r.m.schema.Entity, n)
	if err != nil {
		return fmt.Errorf("failed to raise %s sequence: %w", r.m.schema.Entity, err)
	}
	return nil
}

// checkUnique reports a conflict before the insert so that PostgreSQL does
// not abort the transaction.
func (r repo[T, K]) checkUnique(ctx context.Context, key K, v T) error {
	s := r.m.schema
	for _, u := range s.Unique {
		want := u.Value(v)
		var one int
		err := r.tx.queryRow(ctx,
			"SELECT 1 FROM "+s.Table+" WHERE "+u.Column+" = ? AND "+s.KeyField+" <> ? LIMIT 1",
			want, r.m.keyArg(key)).Scan(&one)
		switch {
		case err == nil:
			return &storage.ConflictError{Entity: s.Entity, Constraint: u.Name, Value: want}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check %s %s: %w", s.Entity, u.Name, err)
		}
	}
	return nil
}

func (r repo[T, K]) exists(ctx context.Context, key K) (bool, error) {
	var one int
	err := r.tx.queryRow(ctx,
		"SELECT 1 FROM "+r.m.schema.Table+" WHERE "+r.m.key()+" = ?", r.m.keyArg(key)).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	}
	return false, fmt.Errorf("failed to look up %s %s: %w", r.m.schema.Entity, key, err)
}

// saveError maps a driver uniqueness violation onto a *storage.ConflictError.
func (r repo[T, K]) saveError(err error, key K, v T) error {
	s := r.m.schema
	detail, ok := r.tx.dialect.uniqueViolation(err)
	if !ok {
		return fmt.Errorf("failed to save %s %s: %w", s.Entity, key, err)
	}
	for _, u := range s.Unique {
		if strings.Contains(detail, u.Column) {
			return &storage.ConflictError{Entity: s.Entity, Constraint: u.Name, Value: u.Value(v)}
		}
	}
	return &storage.ConflictError{Entity: s.Entity, Constraint: s.KeyField, Value: key.String()}
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
	return r.findOne(ctx, "WHERE "+r.m.key()+" = ?", r.m.keyArg(key))
}

func (r repo[T, K]) FindAll(ctx context.Context) ([]T, error) {
	return r.findAll(ctx, "")
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
	p, err := r.page(ctx, "", nil, req)
	if err != nil {
		return nil, err
	}
	return p.Items, nil
}

func (r repo[T, K]) FindPage(ctx context.Context, req pagination.Request) (pagination.Page[T], error) {
	return r.page(ctx, "", nil, req)
}

// page selects one window of the rows matching where. Ties on the sort column
// fall back to ascending key order.
func (r repo[T, K]) page(ctx context.Context, where string, args []any, req pagination.Request) (pagination.Page[T], error) {
	if err := r.ready(ctx); err != nil {
		return pagination.Page[T]{}, err
	}
	if err := req.Validate(); err != nil {
		return pagination.Page[T]{}, err
	}
	f, err := r.m.schema.Field(req.Sort.By)
	if err != nil {
		return pagination.Page[T]{}, err
	}
	dir := string(pagination.Asc)
	if req.Sort.Descending() {
		dir = string(pagination.Desc)
	}
	order := " ORDER BY " + f.Column + " " + dir
	if f.Column != r.m.key() {
		order += ", " + r.m.key() + " ASC"
	}
	windowArgs := append(slices.Clone(args), req.Limit(), req.Offset())
	items, err := r.query(ctx, where+order+" LIMIT ? OFFSET ?", windowArgs...)
	if err != nil {
		return pagination.Page[T]{}, err
	}
	if req.SkipCount {
		return pagination.FromLookahead(req, items), nil
	}
	total, err := r.count(ctx, where, args...)
	if err != nil {
		return pagination.Page[T]{}, err
	}
	return pagination.NewPage(req, items, total), nil
}

func (r repo[T, K]) count(ctx context.Context, where string, args ...any) (int64, error) {
	var n int64
	if err := r.tx.queryRow(ctx, "SELECT COUNT(*) FROM "+r.m.schema.Table+" "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.m.schema.Table, err)
	}
	return n, nil
}

func (r repo[T, K]) keyArgs(keys []K) []any {
	sorted := slices.Clone(keys)
	r.m.schema.SortKeys(sorted)
	sorted = slices.Compact(sorted)
	args := make([]any, len(sorted))
	for i, k := range sorted {
		args[i] = r.m.keyArg(k)
	}
	return args
}

func (r repo[T, K]) FindAllByID(ctx context.Context, keys []K) ([]T, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	var out []T
	for _, chunk := range chunks(r.keyArgs(keys)) {
		items, err := r.query(ctx, "WHERE "+r.m.key()+" IN ("+placeholders(len(chunk))+")"+r.byKey(), chunk...)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (r repo[T, K]) DeleteByID(ctx context.Context, key K) error {
	_, err := r.removeWhere(ctx, "WHERE "+r.m.key()+" = ?", r.m.keyArg(key))
	return err
}

// removeWhere deletes the rows matching where and records their removal in
// ascending key order.
func (r repo[T, K]) removeWhere(ctx context.Context, where string, args ...any) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	items, err := r.query(ctx, where+r.byKey(), args...)
	if err != nil {
		return 0, err
	}
	if err := r.remove(ctx, items); err != nil {
		return 0, err
	}
	return int64(len(items)), nil
}

func (r repo[T, K]) remove(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	keys := make([]any, len(items))
	for i, v := range items {
		keys[i] = r.m.keyArg(r.m.schema.KeyOf(v))
	}
	for _, chunk := range chunks(keys) {
		in := " IN (" + placeholders(len(chunk)) + ")"
		if _, err := r.tx.exec(ctx, "DELETE FROM "+r.m.schema.Table+" WHERE "+r.m.key()+in, chunk...); err != nil {
			return fmt.Errorf("failed to delete %s: %w", r.m.schema.Table, err)
		}
		if r.m.removed != nil {
			if err := r.m.removed(ctx, r.tx, chunk); err != nil {
				return fmt.Errorf("failed to delete %s children: %w", r.m.schema.Table, err)
			}
		}
	}
	for _, v := range items {
		storage.RecordRemoved(r.tx.journal, r.m.schema, v)
	}
	return nil
}

func (r repo[T, K]) ExistsByID(ctx context.Context, key K) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	return r.exists(ctx, key)
}

func (r repo[T, K]) Count(ctx context.Context) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	return r.count(ctx, "")
}

func (r repo[T, K]) Delete(ctx context.Context, v T) error {
	return r.DeleteByID(ctx, r.m.schema.KeyOf(v))
}

func (r repo[T, K]) DeleteAll(ctx context.Context) error {
	_, err := r.removeWhere(ctx, "")
	return err
}

func (r repo[T, K]) DeleteAllByID(ctx context.Context, keys []K) error {
	items, err := r.FindAllByID(ctx, keys)
	if err != nil {
		return err
	}
	return r.remove(ctx, items)
}
