// Package export writes stored entities as JSON lines.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/chatstore/notify"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
)

// ErrUnknownEntity is returned for an entity kind that does not exist.
var ErrUnknownEntity = errors.New("unknown entity kind")

// Record is one exported line.
type Record struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
	Data   any    `json:"data"`
}

// Exporter pages through an entity kind and writes one Record per entity.
type Exporter struct {
	manager        *storage.Manager
	batchSize      int
	progress       io.Writer
	reportInterval int
	logger         *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter) error

// WithBatchSize sets the number of entities read per unit of work.
func WithBatchSize(size int) Option {
	return func(e *Exporter) error {
		if size < pagination.MinSize || size > pagination.MaxSize {
			return fmt.Errorf("batch size must be between %d and %d", pagination.MinSize, pagination.MaxSize)
		}
		e.batchSize = size
		return nil
	}
}

// WithProgress reports progress to w every interval records.
func WithProgress(w io.Writer, interval int) Option {
	return func(e *Exporter) error {
		e.progress = w
		e.reportInterval = interval
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// New creates an Exporter reading through manager.
func New(manager *storage.Manager, opts ...Option) (*Exporter, error) {
	if manager == nil {
		return nil, errors.New("manager cannot be nil")
	}
	e := &Exporter{
		manager:        manager,
		batchSize:      storage.DefaultBatchSize,
		reportInterval: 1000,
		logger:         slog.Default().With("component", "export"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Export writes every entity of kind entity to w in sort order and returns
// the number of records written. Each page is read in its own unit of work.
func (e *Exporter) Export(ctx context.Context, entity string, sort pagination.Sort, w io.Writer) (int, error) {
	switch entity {
	case storage.EntityUser:
		return exportKind(ctx, e, storage.UserSchema, (*storage.UnitOfWork).Users, sort, w)
	case storage.EntityChannel:
		return exportKind(ctx, e, storage.ChannelSchema, (*storage.UnitOfWork).Channels, sort, w)
	case storage.EntityMessage:
		return exportKind(ctx, e, storage.MessageSchema, (*storage.UnitOfWork).Messages, sort, w)
	case storage.EntitySession:
		return exportKind(ctx, e, storage.SessionSchema, (*storage.UnitOfWork).Sessions, sort, w)
	case storage.EntityAccessToken:
		return exportKind(ctx, e, storage.AccessTokenSchema, (*storage.UnitOfWork).AccessTokens, sort, w)
	case storage.EntityRefreshToken:
		return exportKind(ctx, e, storage.RefreshTokenSchema, (*storage.UnitOfWork).RefreshTokens, sort, w)
	case storage.EntityChannelInvitation:
		return exportKind(ctx, e, storage.ChannelInvitationSchema, (*storage.UnitOfWork).ChannelInvitations, sort, w)
	case storage.EntityAppInvitation:
		return exportKind(ctx, e, storage.AppInvitationSchema, (*storage.UnitOfWork).AppInvitations, sort, w)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
}

func exportKind[T any, K storage.Key, R storage.Repository[T, K]](ctx context.Context, e *Exporter, s storage.Schema[T, K], repo func(*storage.UnitOfWork) R, sort pagination.Sort, w io.Writer) (int, error) {
	if _, err := s.Field(sort.By); err != nil {
		return 0, err
	}
	generic := func(uow *storage.UnitOfWork) storage.Repository[T, K] { return repo(uow) }

	var tracker *ProgressTracker
	if e.progress != nil {
		total, err := storage.Run(ctx, e.manager, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (int64, error) {
			return generic(uow).Count(ctx)
		})
		if err != nil {
			return 0, err
		}
		tracker = NewProgressTracker(e.progress, s.Entity, int(total), e.reportInterval)
		tracker.Start()
		defer tracker.Finish()
	}

	enc := json.NewEncoder(w)
	written := 0
	it := storage.NewPageIterator(e.manager, e.batchSize, sort, storage.AllPages(generic))
	err := it.ForEach(ctx, func(items []T) error {
		for _, v := range items {
			rec := Record{
				Entity: s.Entity,
				Key:    notify.PublicKey(s.Entity, s.KeyOf(v).String()),
				Data:   notify.Payload(v),
			}
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("failed to write %s %s: %w", s.Entity, rec.Key, err)
			}
			written++
		}
		if tracker != nil {
			tracker.Increment(len(items))
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	e.logger.Debug("export complete", "entity", s.Entity, "records", written)
	return written, nil
}

// Kinds lists the entity kinds Export accepts.
func Kinds() []string {
	return append([]string(nil), storage.Entities...)
}
