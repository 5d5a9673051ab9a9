package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/chatstore/storage"
)

// LogSink writes one structured log record per event.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink logs events at level. A nil logger selects slog.Default().
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify-log"), level: level}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, batch storage.Batch) error {
	for _, e := range batch.Events {
		env := NewEnvelope(e, batch.CommittedAt)
		s.logger.Log(ctx, s.level, "entity changed",
			"id", env.ID,
			"sequence", env.Sequence,
			"position", env.Position,
			"kind", env.Kind,
			"entity", env.Entity,
			"key", env.Key)
	}
	return nil
}

// ChannelSink hands batches to an in-process consumer.
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan storage.Batch
	closed bool
}

// NewChannelSink creates a sink whose channel buffers up to buffer batches.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan storage.Batch, buffer)}
}

func (s *ChannelSink) Name() string { return "channel" }

// Batches returns the channel batches are delivered on. It is closed by Close.
func (s *ChannelSink) Batches() <-chan storage.Batch {
	return s.ch
}

// Deliver blocks until the consumer accepts batch or ctx is done.
func (s *ChannelSink) Deliver(ctx context.Context, batch storage.Batch) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Permanent(ErrDispatcherClosed)
	}
	select {
	case s.ch <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// FanOut delivers every batch to several sinks concurrently. A batch fails
// when any sink fails; a retry redelivers it to every sink.
type FanOut struct {
	sinks []Sink
}

// NewFanOut combines sinks.
func NewFanOut(sinks ...Sink) (*FanOut, error) {
	if len(sinks) == 0 {
		return nil, ErrSinkRequired
	}
	for _, s := range sinks {
		if s == nil {
			return nil, ErrSinkRequired
		}
	}
	return &FanOut{sinks: sinks}, nil
}

func (f *FanOut) Name() string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

func (f *FanOut) Deliver(ctx context.Context, batch storage.Batch) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range f.sinks {
		g.Go(func() error {
			return s.Deliver(ctx, batch)
		})
	}
	return g.Wait()
}

// Close closes every sink that has a Close method.
func (f *FanOut) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
