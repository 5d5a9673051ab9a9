package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/storage"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type fakeRedis struct {
	channel string
	message []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(logger, slog.LevelInfo)

	require.NoError(t, sink.Deliver(context.Background(), userBatch(t, 5)))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "entity changed", rec["msg"])
	assert.Equal(t, "user", rec["entity"])
	assert.Equal(t, "EntityPersisted", rec["kind"])
	assert.Equal(t, float64(5), rec["sequence"])
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(1)
	require.NoError(t, sink.Deliver(context.Background(), userBatch(t, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.Deliver(ctx, userBatch(t, 2))
	assert.ErrorIs(t, err, context.Canceled, "a full channel honours ctx")

	b := <-sink.Batches()
	assert.Equal(t, uint64(1), b.Sequence)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	_, open := <-sink.Batches()
	assert.False(t, open)
	assert.ErrorIs(t, sink.Deliver(context.Background(), userBatch(t, 3)), ErrDispatcherClosed)
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w)

	require.NoError(t, sink.Deliver(context.Background(), userBatch(t, 9)))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "user:1", string(msg.Key))
	assert.Equal(t, committedAt, msg.Time)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, uint64(9), env.Sequence)
	assert.Equal(t, "EntityPersisted", env.Kind)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, env.ID, headers["event-id"])
	assert.Equal(t, "EntityPersisted", headers["event-kind"])

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	sink := NewKafkaSinkWithWriter(&fakeWriter{err: boom})
	err := sink.Deliver(context.Background(), userBatch(t, 1))
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaSink_RequiresTopic(t *testing.T) {
	_, err := NewKafkaSink([]string{"localhost:9092"}, "")
	assert.ErrorIs(t, err, ErrSinkRequired)
	_, err = NewKafkaSink(nil, "changes")
	assert.ErrorIs(t, err, ErrSinkRequired)
}

func TestRedisSink(t *testing.T) {
	client := &fakeRedis{}
	sink := NewRedisSinkWithClient(client, "chatstore.changes")

	require.NoError(t, sink.Deliver(context.Background(), userBatch(t, 3)))
	assert.Equal(t, "chatstore.changes", client.channel)

	var env BatchEnvelope
	require.NoError(t, json.Unmarshal(client.message, &env))
	assert.Equal(t, uint64(3), env.Sequence)
	assert.Equal(t, "READ_COMMITTED", env.Isolation)
	require.Len(t, env.Events, 1)
	assert.Equal(t, "user", env.Events[0].Entity)

	require.NoError(t, sink.Close(), "fake client has no Close")
}

func TestRedisSink_PublishError(t *testing.T) {
	boom := errors.New("connection refused")
	sink := NewRedisSinkWithClient(&fakeRedis{err: boom}, "c")
	assert.ErrorIs(t, sink.Deliver(context.Background(), userBatch(t, 1)), boom)
}

func TestFanOut(t *testing.T) {
	_, err := NewFanOut()
	assert.ErrorIs(t, err, ErrSinkRequired)
	_, err = NewFanOut(&fakeSink{}, nil)
	assert.ErrorIs(t, err, ErrSinkRequired)

	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", failures: 1}
	f, err := NewFanOut(a, b)
	require.NoError(t, err)
	assert.Equal(t, "fanout(a,b)", f.Name())

	batch := userBatch(t, 1)
	assert.Error(t, f.Deliver(context.Background(), batch), "one failing sink fails the batch")
	require.NoError(t, f.Deliver(context.Background(), batch))

	_, gotA := a.snapshot()
	_, gotB := b.snapshot()
	assert.Len(t, gotA, 2)
	assert.Len(t, gotB, 1)

	require.NoError(t, f.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestFanOut_ThroughDispatcher(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := NewChannelSink(1)
	f, err := NewFanOut(a, b)
	require.NoError(t, err)
	d, err := NewDispatcher(f)
	require.NoError(t, err)

	require.NoError(t, d.Publish(context.Background(), userBatch(t, 1)))
	got := <-b.Batches()
	require.NoError(t, d.Close())

	assert.Equal(t, uint64(1), got.Sequence)
	_, gotA := a.snapshot()
	assert.Len(t, gotA, 1)
	var _ storage.Publisher = d
}
