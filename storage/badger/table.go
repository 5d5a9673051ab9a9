package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
)

// table binds an entity schema to its key encoding and value codec.
type table[T storage.Entity, K storage.Key] struct {
	schema   storage.Schema[T, K]
	keyBytes func(K) []byte
	codec    codec[T]
}

func (t *table[T, K]) rowKey(key K) []byte {
	return makeRowKey(t.schema.Entity, t.keyBytes(key))
}

var (
	userTable              = &table[core.User, core.ID]{storage.UserSchema, idBytes, userCodec}
	channelTable           = &table[core.Channel, core.ID]{storage.ChannelSchema, idBytes, channelCodec}
	messageTable           = &table[core.Message, core.ID]{storage.MessageSchema, idBytes, messageCodec}
	sessionTable           = &table[core.Session, core.ID]{storage.SessionSchema, idBytes, sessionCodec}
	accessTokenTable       = &table[core.AccessToken, core.Token]{storage.AccessTokenSchema, tokenBytes, accessTokenCodec}
	refreshTokenTable      = &table[core.RefreshToken, core.Token]{storage.RefreshTokenSchema, tokenBytes, refreshTokenCodec}
	channelInvitationTable = &table[core.ChannelInvitation, core.ID]{storage.ChannelInvitationSchema, idBytes, channelInvitationCodec}
	appInvitationTable     = &table[core.AppInvitation, core.Token]{storage.AppInvitationSchema, tokenBytes, appInvitationCodec}
)

// repo implements storage.Repository over a table within one transaction.
type repo[T storage.Entity, K storage.Key] struct {
	tx *tx
	t  *table[T, K]
}

func (r repo[T, K]) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.tx.active()
}

func (r repo[T, K]) decode(item *badger.Item) (T, error) {
	var v T
	err := item.Value(func(val []byte) error {
		var err error
		v, err = r.t.codec.unmarshal(r.t.schema.Entity, val)
		return err
	})
	return v, err
}

// get reads the row stored under key.
func (r repo[T, K]) get(key K) (T, bool, error) {
	var zero T
	item, err := r.tx.txn.Get(r.t.rowKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to read %s %s: %w", r.t.schema.Entity, key, err)
	}
	v, err := r.decode(item)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// scan returns the rows matching keep in ascending key order. The iterator
// is closed before scan returns, so callers may write afterwards.
func (r repo[T, K]) scan(keep func(T) bool) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = rowPrefix(r.t.schema.Entity)
	iter := r.tx.txn.NewIterator(opts)
	defer iter.Close()

	var out []T
	for iter.Rewind(); iter.Valid(); iter.Next() {
		v, err := r.decode(iter.Item())
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r repo[T, K]) sequence() (int64, error) {
	item, err := r.tx.txn.Get(makeSequenceKey(r.t.schema.Entity))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s sequence: %w", r.t.schema.Entity, err)
	}
	var n int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: %s sequence", storage.ErrTruncatedData, r.t.schema.Entity)
		}
		n = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return n, err
}

func (r repo[T, K]) setSequence(n int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	if err := r.tx.txn.Set(makeSequenceKey(r.t.schema.Entity), buf); err != nil {
		return fmt.Errorf("failed to advance %s sequence: %w", r.t.schema.Entity, err)
	}
	return nil
}

func (r repo[T, K]) Save(ctx context.Context, v T) (T, error) {
	var zero T
	if err := r.ready(ctx); err != nil {
		return zero, err
	}
	s := r.t.schema
	v = s.Canonical(v)
	key := s.KeyOf(v)

	var high int64
	if s.Sequence != nil {
		var err error
		if high, err = r.sequence(); err != nil {
			return zero, err
		}
	}
	if key.IsZero() {
		if s.Sequence == nil {
			return zero, fmt.Errorf("%w: %s requires a %s", storage.ErrInvalidQuery, s.Entity, s.KeyField)
		}
		next, err := s.Sequence.Next(s.Entity, high)
		if err != nil {
			return zero, err
		}
		key = next
		v = s.Sequence.Assign(v, key)
	}
	if err := r.checkUnique(key, v); err != nil {
		return zero, err
	}
	prev, existed, err := r.get(key)
	if err != nil {
		return zero, err
	}

	if err := r.tx.txn.Set(r.t.rowKey(key), r.t.codec.marshal(v)); err != nil {
		return zero, fmt.Errorf("failed to write %s %s: %w", s.Entity, key, err)
	}
	if err := r.index(key, prev, existed, v); err != nil {
		return zero, err
	}
	if s.Sequence != nil {
		if n := s.Sequence.Value(key); n > high {
			if err := r.setSequence(n); err != nil {
				return zero, err
			}
		}
	}
	storage.RecordSaved(r.tx.journal, s, v, existed)
	return v, nil
}

func (r repo[T, K]) checkUnique(key K, v T) error {
	own := r.t.keyBytes(key)
	for _, u := range r.t.schema.Unique {
		want := u.Value(v)
		item, err := r.tx.txn.Get(makeUniqueKey(r.t.schema.Entity, u.Name, want))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to check %s %s: %w", r.t.schema.Entity, u.Name, err)
		}
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to check %s %s: %w", r.t.schema.Entity, u.Name, err)
		}
		if !bytes.Equal(owner, own) {
			return &storage.ConflictError{Entity: r.t.schema.Entity, Constraint: u.Name, Value: want}
		}
	}
	return nil
}

// index moves the unique index entries of key from prev to v.
func (r repo[T, K]) index(key K, prev T, existed bool, v T) error {
	own := r.t.keyBytes(key)
	for _, u := range r.t.schema.Unique {
		want := u.Value(v)
		if existed {
			if old := u.Value(prev); old != want {
				if err := r.tx.txn.Delete(makeUniqueKey(r.t.schema.Entity, u.Name, old)); err != nil {
					return fmt.Errorf("failed to update %s %s index: %w", r.t.schema.Entity, u.Name, err)
				}
			}
		}
		if err := r.tx.txn.Set(makeUniqueKey(r.t.schema.Entity, u.Name, want), own); err != nil {
			return fmt.Errorf("failed to update %s %s index: %w", r.t.schema.Entity, u.Name, err)
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
	if err := r.ready(ctx); err != nil {
		var zero T
		return zero, false, err
	}
	return r.get(key)
}

func (r repo[T, K]) FindAll(ctx context.Context) ([]T, error) {
	return r.findAll(ctx, nil)
}

func (r repo[T, K]) findAll(ctx context.Context, keep func(T) bool) ([]T, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	return r.scan(keep)
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

func (r repo[T, K]) page(ctx context.Context, keep func(T) bool, req pagination.Request) (pagination.Page[T], error) {
	if err := r.ready(ctx); err != nil {
		return pagination.Page[T]{}, err
	}
	items, err := r.scan(keep)
	if err != nil {
		return pagination.Page[T]{}, err
	}
	return storage.Paginate(r.t.schema, items, req)
}

func (r repo[T, K]) FindAllByID(ctx context.Context, keys []K) ([]T, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	sorted := slices.Clone(keys)
	r.t.schema.SortKeys(sorted)
	var out []T
	for _, k := range slices.Compact(sorted) {
		v, ok, err := r.get(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r repo[T, K]) DeleteByID(ctx context.Context, key K) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	v, ok, err := r.get(key)
	if err != nil || !ok {
		return err
	}
	return r.remove(v)
}

// remove deletes v's row and index entries.
func (r repo[T, K]) remove(v T) error {
	s := r.t.schema
	key := s.KeyOf(v)
	if err := r.tx.txn.Delete(r.t.rowKey(key)); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", s.Entity, key, err)
	}
	for _, u := range s.Unique {
		if err := r.tx.txn.Delete(makeUniqueKey(s.Entity, u.Name, u.Value(v))); err != nil {
			return fmt.Errorf("failed to delete %s %s index: %w", s.Entity, u.Name, err)
		}
	}
	storage.RecordRemoved(r.tx.journal, s, v)
	return nil
}

// removeWhere deletes the rows matching keep in ascending key order.
func (r repo[T, K]) removeWhere(ctx context.Context, keep func(T) bool) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	items, err := r.scan(keep)
	if err != nil {
		return 0, err
	}
	for _, v := range items {
		if err := r.remove(v); err != nil {
			return 0, err
		}
	}
	return int64(len(items)), nil
}

func (r repo[T, K]) ExistsByID(ctx context.Context, key K) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	_, err := r.tx.txn.Get(r.t.rowKey(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	}
	return false, fmt.Errorf("failed to read %s %s: %w", r.t.schema.Entity, key, err)
}

// Count walks the row keys without decoding values.
func (r repo[T, K]) Count(ctx context.Context) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = rowPrefix(r.t.schema.Entity)
	opts.PrefetchValues = false
	iter := r.tx.txn.NewIterator(opts)
	defer iter.Close()
	var n int64
	for iter.Rewind(); iter.Valid(); iter.Next() {
		n++
	}
	return n, nil
}

func (r repo[T, K]) Delete(ctx context.Context, v T) error {
	return r.DeleteByID(ctx, r.t.schema.KeyOf(v))
}

func (r repo[T, K]) DeleteAll(ctx context.Context) error {
	_, err := r.removeWhere(ctx, nil)
	return err
}

func (r repo[T, K]) DeleteAllByID(ctx context.Context, keys []K) error {
	items, err := r.FindAllByID(ctx, keys)
	if err != nil {
		return err
	}
	for _, v := range items {
		if err := r.remove(v); err != nil {
			return err
		}
	}
	return nil
}

// findUnique resolves a unique index entry to its row.
func (r repo[T, K]) findUnique(ctx context.Context, constraint, value string) (T, bool, error) {
	var zero T
	if err := r.ready(ctx); err != nil {
		return zero, false, err
	}
	item, err := r.tx.txn.Get(makeUniqueKey(r.t.schema.Entity, constraint, value))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to read %s %s index: %w", r.t.schema.Entity, constraint, err)
	}
	owner, err := item.ValueCopy(nil)
	if err != nil {
		return zero, false, fmt.Errorf("failed to read %s %s index: %w", r.t.schema.Entity, constraint, err)
	}
	row, err := r.tx.txn.Get(makeRowKey(r.t.schema.Entity, owner))
	if err != nil {
		return zero, false, fmt.Errorf("%w: %s %s index points at a missing row: %w", storage.ErrSerializationFailed, r.t.schema.Entity, constraint, err)
	}
	v, err := r.decode(row)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}
