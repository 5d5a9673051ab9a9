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

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/chatstore/storage"
)

// Delivery outcomes reported to a Recorder.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Sink receives committed batches.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Deliver publishes every event of batch. It may be called again with
	// the same batch after a failure.
	Deliver(ctx context.Context, batch storage.Batch) error
}

// Recorder observes delivery results.
type Recorder interface {
	EventsDelivered(sink, outcome string, events int)
}

// Dispatcher schedules committed batches onto a worker pool and delivers them to a sink.
type Dispatcher struct {
	sink     Sink
	pool     *ants.Pool
	poolSize int
	logger   *slog.Logger
	recorder Recorder

	attempts int
	backoff  time.Duration
	timeout  time.Duration

	// mu orders Publish against Flush and Close so that inflight is never
	// added to while one of them waits on it.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

var _ storage.Publisher = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithPoolSize sets the number of concurrent deliveries.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(d *Dispatcher) error {
		if size < 1 {
			size = 1
		}
		d.poolSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// WithRetry sets the delivery attempts per batch and the delay before the
// first retry. The delay doubles on every further retry.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		if backoff < 0 {
			return fmt.Errorf("backoff cannot be negative: %s", backoff)
		}
		d.attempts = attempts
		d.backoff = backoff
		return nil
	}
}

// WithTimeout bounds the delivery of one batch, retries included.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive: %s", timeout)
		}
		d.timeout = timeout
		return nil
	}
}

// WithRecorder reports delivery results to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) error {
		if r == nil {
			return fmt.Errorf("recorder cannot be nil")
		}
		d.recorder = r
		return nil
	}
}

// NewDispatcher creates a dispatcher for sink.
func NewDispatcher(sink Sink, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, ErrSinkRequired
	}
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	d := &Dispatcher{
		sink:     sink,
		poolSize: poolSize,
		logger:   slog.Default().With("component", "notify-dispatcher"),
		attempts: 3,
		backoff:  100 * time.Millisecond,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With("sink", sink.Name())

	pool, err := ants.NewPool(d.poolSize)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Publish schedules delivery of batch and returns without waiting for it.
// Batches without events are dropped. Publish blocks while every worker is busy.
func (d *Dispatcher) Publish(ctx context.Context, batch storage.Batch) error {
	if len(batch.Events) == 0 {
		return nil
	}
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	d.mu.RUnlock()
	err := d.pool.Submit(func() {
		defer d.inflight.Done()
		d.deliver(context.WithoutCancel(ctx), batch)
	})
	if err != nil {
		d.inflight.Done()
		d.record(OutcomeRejected, batch)
		return fmt.Errorf("failed to schedule batch %d: %w", batch.Sequence, err)
	}
	return nil
}

// deliver runs on a pool worker. ctx carries the publisher's values but not
// its cancellation.
func (d *Dispatcher) deliver(ctx context.Context, batch storage.Batch) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	attempts, err := d.deliverWithRetry(ctx, batch)
	if err != nil {
		d.logger.Error("failed to deliver batch",
			"sequence", batch.Sequence, "events", len(batch.Events), "attempts", attempts,
			"permanent", IsPermanent(err), "error", err)
		d.record(OutcomeFailed, batch)
		return
	}
	d.logger.Debug("batch delivered", "sequence", batch.Sequence, "events", len(batch.Events))
	d.record(OutcomeDelivered, batch)
}

func (d *Dispatcher) record(outcome string, batch storage.Batch) {
	if d.recorder != nil {
		d.recorder.EventsDelivered(d.sink.Name(), outcome, len(batch.Events))
	}
}

// Flush waits until every batch scheduled before the call has been delivered
// or has failed. Publish blocks until Flush returns.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight.Wait()
}

// Close stops accepting batches, waits for scheduled deliveries, releases the
// pool and closes the sink when it has a Close method.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	d.pool.Release()
	if c, ok := d.sink.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
