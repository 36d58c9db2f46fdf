package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/pkg/idempotency"
	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/pkg/tracing"
)

// chanReader serves messages from a shared channel, like several readers in one group.
type chanReader struct {
	in        <-chan kafka.Message
	mu        *sync.Mutex
	committed *[]kafka.Message
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.committed = append(*r.committed, msgs...)
	return nil
}

func (r *chanReader) Close() error { return nil }

type recordingProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (p *recordingProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *recordingProducer) all() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.Message(nil), p.msgs...)
}

type harness struct {
	in        chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
	dlq       *recordingProducer
}

func newHarness() *harness {
	return &harness{in: make(chan kafka.Message, 64), dlq: &recordingProducer{}}
}

func (h *harness) readers() func() Reader {
	return func() Reader { return &chanReader{in: h.in, mu: &h.mu, committed: &h.committed} }
}

func (h *harness) commits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.committed)
}

func (h *harness) run(t *testing.T, cfg Config, handler Handler, opts ...Option) (context.CancelFunc, <-chan error) {
	t.Helper()
	cfg.Topic = "reservation.requests"
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	opts = append(opts, WithDeadLetter(h.dlq))
	g := New(zap.NewNop(), cfg, h.readers(), handler, metrics.New(prometheus.NewRegistry()), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	return cancel, done
}

func msgAt(offset int64) kafka.Message {
	return kafka.Message{Topic: "reservation.requests", Partition: 0, Offset: offset, Value: []byte(`{}`)}
}

func TestGroupCommitsHandledMessages(t *testing.T) {
	h := newHarness()
	var handled atomic.Int32
	cancel, done := h.run(t, Config{Workers: 2}, HandlerFunc(func(context.Context, kafka.Message) error {
		handled.Add(1)
		return nil
	}))

	for i := int64(0); i < 5; i++ {
		h.in <- msgAt(i)
	}
	require.Eventually(t, func() bool { return h.commits() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 5, handled.Load())
	assert.Empty(t, h.dlq.all())
}

func TestGroupRetriesTransientErrors(t *testing.T) {
	h := newHarness()
	var calls atomic.Int32
	cancel, done := h.run(t, Config{Workers: 1, MaxAttempts: 4}, HandlerFunc(func(context.Context, kafka.Message) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}))

	h.in <- msgAt(1)
	require.Eventually(t, func() bool { return h.commits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 3, calls.Load())
	assert.Empty(t, h.dlq.all())
}

func TestGroupDeadLettersExhaustedMessages(t *testing.T) {
	h := newHarness()
	var calls atomic.Int32
	cancel, done := h.run(t, Config{Workers: 1, MaxAttempts: 3}, HandlerFunc(func(context.Context, kafka.Message) error {
		calls.Add(1)
		return errors.New("store unavailable")
	}))

	h.in <- msgAt(7)
	require.Eventually(t, func() bool { return h.commits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.EqualValues(t, 3, calls.Load())
	dead := h.dlq.all()
	require.Len(t, dead, 1)
	assert.Equal(t, "reservation.requests.dlq", dead[0].Topic)
	assert.Equal(t, "7", tracing.HeaderValue(dead[0].Headers, "dlq_offset"))
	assert.Contains(t, tracing.HeaderValue(dead[0].Headers, "dlq_error"), "store unavailable")
}

func TestGroupDeadLettersPermanentErrorsWithoutRetry(t *testing.T) {
	h := newHarness()
	var calls atomic.Int32
	cancel, done := h.run(t, Config{Workers: 1, MaxAttempts: 5}, HandlerFunc(func(context.Context, kafka.Message) error {
		calls.Add(1)
		return Permanent(errors.New("bad payload"))
	}))

	h.in <- msgAt(2)
	require.Eventually(t, func() bool { return h.commits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, calls.Load())
	assert.Len(t, h.dlq.all(), 1)
}

func TestGroupSkipsRememberedDeliveries(t *testing.T) {
	h := newHarness()
	dedupe := idempotency.NewMemoryStore(time.Minute)
	var calls atomic.Int32
	cancel, done := h.run(t, Config{Workers: 1}, HandlerFunc(func(context.Context, kafka.Message) error {
		calls.Add(1)
		return nil
	}), WithDeduper(dedupe))

	h.in <- msgAt(3)
	h.in <- msgAt(3)
	require.Eventually(t, func() bool { return h.commits() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGroupBoundsConcurrency(t *testing.T) {
	h := newHarness()
	var inFlight, peak atomic.Int32
	cancel, done := h.run(t, Config{Workers: 3}, HandlerFunc(func(context.Context, kafka.Message) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}))

	for i := int64(0); i < 20; i++ {
		h.in <- msgAt(i)
	}
	require.Eventually(t, func() bool { return h.commits() == 20 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
