package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/notify"
	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/memory"
	"github.com/poiesic/chatstore/storage/storagetest"
)

func TestCollector_Transactions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.TransactionFinished(storage.Serializable, storage.OutcomeCommitted, 3*time.Millisecond)
	c.TransactionFinished(storage.Serializable, storage.OutcomeCommitted, time.Millisecond)
	c.TransactionFinished(storage.ReadCommitted, storage.OutcomeRolledBack, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transactions.WithLabelValues("SERIALIZABLE", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("READ_COMMITTED", "rolled_back")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration))
}

func TestCollector_Events(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	c.EventsDelivered("kafka", notify.OutcomeDelivered, 3)
	c.EventsDelivered("kafka", notify.OutcomeDelivered, 2)
	c.EventsDelivered("kafka", notify.OutcomeFailed, 1)

	assert.Equal(t, 5.0, testutil.ToFloat64(c.events.WithLabelValues("kafka", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("kafka", "failed")))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.EventsDelivered("log", notify.OutcomeDelivered, 1)
	second.EventsDelivered("log", notify.OutcomeDelivered, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.events.WithLabelValues("log", "delivered")))
}

func TestCollector_ObservesManager(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	backend, err := memory.New()
	require.NoError(t, err)
	mgr, err := storage.NewManager(backend, storage.WithObserver(c))
	require.NoError(t, err)
	defer mgr.Close()

	err = mgr.Do(context.Background(), storage.Serializable, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("SERIALIZABLE", "committed")))
}
