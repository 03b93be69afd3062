package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type fakeReader struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{in: make(chan kafka.Message, len(msgs)+1)}
	for _, m := range msgs {
		r.in <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, zap.NewNop())
	p.Start(context.Background())

	require.NoError(t, p.Publish("t1", []byte("1"), []byte("a")))
	require.NoError(t, p.Publish("t2", []byte("2"), []byte("b")))
	p.Close()
	p.WaitClosed()

	msgs := w.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "t1", msgs[0].Topic)
	assert.Equal(t, "t2", msgs[1].Topic)
	assert.True(t, w.closed)

	assert.ErrorIs(t, p.Publish("t1", nil, nil), ErrProducerClosed)
}

func TestProducer_StopsOnContextCancel(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Publish("t", nil, []byte("x")))
	cancel()
	p.WaitClosed()

	assert.Len(t, w.snapshot(), 1)
	assert.ErrorIs(t, p.Publish("t", nil, nil), ErrProducerClosed)
}

func TestProducer_InboxFullDoesNotBlock(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 1, zap.NewNop())

	require.NoError(t, p.Publish("t", nil, []byte("1")))
	assert.ErrorIs(t, p.Publish("t", nil, []byte("2")), ErrInboxFull)

	p.Start(context.Background())
	p.Close()
	p.WaitClosed()
}

func TestProducer_WriteErrorIsLogged(t *testing.T) {
	w := &fakeWriter{fail: errors.New("broker down")}
	p := newProducer(w, 4, zap.NewNop())
	p.Start(context.Background())

	require.NoError(t, p.Publish("t", nil, []byte("1")))
	p.Close()
	p.WaitClosed()
	assert.Empty(t, w.snapshot())
}

func TestPublisher_RoutesByEventType(t *testing.T) {
	w := &fakeWriter{}
	prod := newProducer(w, 8, zap.NewNop())
	prod.Start(context.Background())
	pub := NewPublisher(prod, zap.NewNop())

	ctx := context.Background()
	pub.Publish(ctx, orders.Envelope{EventID: "e1", EventType: orders.EventOrderCreated, EventVersion: 1, CorrelationID: "7", Payload: json.RawMessage(`{}`)})
	pub.Publish(ctx, orders.Envelope{EventID: "e2", EventType: orders.EventOrderStatusChanged, EventVersion: 1, CorrelationID: "7", Payload: json.RawMessage(`{}`)})
	pub.Publish(ctx, orders.Envelope{EventID: "e3", EventType: "Unknown"})
	prod.Close()
	prod.WaitClosed()

	msgs := w.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, orders.TopicOrderCreated, msgs[0].Topic)
	assert.Equal(t, orders.TopicOrderStatusChanged, msgs[1].Topic)
	assert.Equal(t, []byte("7"), msgs[0].Key)
	assert.Equal(t, HeaderEventType, msgs[0].Headers[0].Key)
	assert.Equal(t, orders.EventOrderCreated, string(msgs[0].Headers[0].Value))

	env, err := DecodeEnvelope(msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, "e2", env.EventID)
}

func TestConsumer_CommitsHandledMessages(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Key: []byte("1"), Offset: 1},
		kafka.Message{Key: []byte("2"), Offset: 2},
		kafka.Message{Key: []byte("1"), Offset: 3},
	)
	c := newConsumer(r, 4, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var handled atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(context.Context, kafka.Message) error {
			handled.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return r.commits() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 3, handled.Load())
	assert.True(t, r.closed)
}

func TestConsumer_RetriesThenSkipsPoisonMessage(t *testing.T) {
	r := newFakeReader(kafka.Message{Key: []byte("1"), Offset: 1})
	c := newConsumer(r, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(context.Context, kafka.Message) error {
			attempts.Add(1)
			return errors.New("boom")
		})
	}()

	require.Eventually(t, func() bool { return r.commits() == 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestConsumer_SameKeySameWorker(t *testing.T) {
	c := newConsumer(newFakeReader(), 8, zap.NewNop())
	assert.Equal(t, c.worker([]byte("42")), c.worker([]byte("42")))
	assert.Equal(t, 0, c.worker(nil))
}

func TestUnwrapPayload(t *testing.T) {
	p, err := UnwrapPayload[orders.OrderStatusChangedPayload](json.RawMessage(`{"order_id":3,"from":"in_process","to":"sent"}`))
	require.NoError(t, err)
	assert.Equal(t, orders.OrderStatusChangedPayload{OrderID: 3, From: orders.StatusInProcess, To: orders.StatusSent}, p)

	_, err = UnwrapPayload[orders.OrderStatusChangedPayload](json.RawMessage(`[`))
	assert.Error(t, err)
}
