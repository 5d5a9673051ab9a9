package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/memory"
	"github.com/poiesic/chatstore/storage/storagetest"
)

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil)
	assert.ErrorIs(t, err, ErrSinkRequired)

	_, err = NewDispatcher(&fakeSink{}, WithRetry(0, time.Millisecond))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = NewDispatcher(&fakeSink{}, WithRetry(1, -time.Millisecond))
	assert.Error(t, err)

	_, err = NewDispatcher(&fakeSink{}, WithTimeout(0))
	assert.Error(t, err)

	_, err = NewDispatcher(&fakeSink{}, WithRecorder(nil))
	assert.Error(t, err)

	d, err := NewDispatcher(&fakeSink{}, WithPoolSize(0), WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, d.poolSize)
	require.NoError(t, d.Close())
}

func TestDispatcher_Delivers(t *testing.T) {
	sink := &fakeSink{}
	rec := &fakeRecorder{}
	d, err := NewDispatcher(sink, WithPoolSize(2), WithRecorder(rec))
	require.NoError(t, err)
	defer d.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, d.Publish(context.Background(), userBatch(t, seq)))
	}
	d.Flush()

	calls, batches := sink.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, batches, 3)
	assert.Equal(t, 3, rec.count("fake", OutcomeDelivered))
}

func TestDispatcher_DropsEmptyBatches(t *testing.T) {
	sink := &fakeSink{}
	d, err := NewDispatcher(sink)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Publish(context.Background(), storage.Batch{Sequence: 1}))
	d.Flush()

	calls, _ := sink.snapshot()
	assert.Zero(t, calls)
}

func TestDispatcher_RetriesFailedDelivery(t *testing.T) {
	sink := &fakeSink{failures: 2}
	rec := &fakeRecorder{}
	d, err := NewDispatcher(sink, WithRetry(3, time.Millisecond), WithRecorder(rec))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Publish(context.Background(), userBatch(t, 1)))
	d.Flush()

	calls, batches := sink.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, batches, 1)
	assert.Equal(t, 1, rec.count("fake", OutcomeDelivered))
	assert.Zero(t, rec.count("fake", OutcomeFailed))
}

func TestDispatcher_RecordsFailure(t *testing.T) {
	sink := &fakeSink{failures: 10}
	rec := &fakeRecorder{}
	d, err := NewDispatcher(sink, WithRetry(2, time.Millisecond), WithRecorder(rec))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Publish(context.Background(), userBatch(t, 1)))
	d.Flush()

	calls, batches := sink.snapshot()
	assert.Equal(t, 2, calls)
	assert.Empty(t, batches)
	assert.Equal(t, 1, rec.count("fake", OutcomeFailed))
}

func TestDispatcher_IgnoresPublisherCancellation(t *testing.T) {
	sink := &fakeSink{}
	d, err := NewDispatcher(sink)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Publish(ctx, userBatch(t, 1)))
	cancel()
	d.Flush()

	_, batches := sink.snapshot()
	assert.Len(t, batches, 1)
}

func TestDispatcher_FlushWhilePublishing(t *testing.T) {
	sink := &fakeSink{}
	d, err := NewDispatcher(sink, WithPoolSize(4))
	require.NoError(t, err)
	defer d.Close()

	const publishers, perPublisher = 4, 25
	var wg sync.WaitGroup
	for p := range publishers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range perPublisher {
				assert.NoError(t, d.Publish(context.Background(), userBatch(t, uint64(p*perPublisher+i+1))))
			}
		}()
		go func() {
			defer wg.Done()
			for range perPublisher {
				d.Flush()
			}
		}()
	}
	wg.Wait()
	d.Flush()

	_, batches := sink.snapshot()
	assert.Len(t, batches, publishers*perPublisher)
}

func TestDispatcher_Close(t *testing.T) {
	sink := &fakeSink{}
	d, err := NewDispatcher(sink)
	require.NoError(t, err)

	require.NoError(t, d.Publish(context.Background(), userBatch(t, 1)))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "close is idempotent")

	_, batches := sink.snapshot()
	assert.Len(t, batches, 1, "close waits for scheduled deliveries")
	assert.True(t, sink.closed)

	err = d.Publish(context.Background(), userBatch(t, 2))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_PublishesCommittedUnits(t *testing.T) {
	sink := NewChannelSink(4)
	d, err := NewDispatcher(sink)
	require.NoError(t, err)

	backend, err := memory.New()
	require.NoError(t, err)
	mgr, err := storage.NewManager(backend, storage.WithPublisher(d))
	require.NoError(t, err)
	defer mgr.Close()

	err = mgr.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
		return err
	})
	require.NoError(t, err)

	err = mgr.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, storagetest.NewUser(t, 0, "bob"))
		require.NoError(t, err)
		uow.Rollback()
		return nil
	})
	require.ErrorIs(t, err, storage.ErrRolledBack)

	require.NoError(t, d.Close())

	var got []storage.Batch
	for b := range sink.Batches() {
		got = append(got, b)
	}
	require.Len(t, got, 1)
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, storage.EntityPersisted, got[0].Events[0].Kind)
	assert.Equal(t, storage.EntityUser, got[0].Events[0].Entity)
	assert.Equal(t, "1", got[0].Events[0].Key)
}
