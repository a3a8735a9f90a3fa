package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/model"
)

type stubProcessor struct {
	mu   sync.Mutex
	seen map[string]int
	rows int

	// failFirst задаёт число первых вызовов для каждого пакета, завершающихся ошибкой.
	failFirst int
	// writeBeforeFail имитирует запись строк до ошибки.
	writeBeforeFail bool
	delay           time.Duration

	current atomic.Int64
	peak    atomic.Int64
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{seen: map[string]int{}}
}

func (p *stubProcessor) ProcessBatch(ctx context.Context, batch model.Batch) (*model.BatchOutcome, error) {
	n := p.current.Add(1)
	defer p.current.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := batch.ID.String()
	p.seen[key]++
	if p.seen[key] <= p.failFirst {
		if p.writeBeforeFail {
			p.rows += len(batch.Usages)
		}
		return nil, errors.New("storage unavailable")
	}

	p.rows += len(batch.Usages)
	return &model.BatchOutcome{BatchID: batch.ID, Processed: len(batch.Usages)}, nil
}

func (p *stubProcessor) calls(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[id]
}

func (p *stubProcessor) rowCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows
}

func testBatch(size int) model.Batch {
	return model.NewBatch(make([]model.UsageInput, size), "test", time.Now())
}

func startDispatcher(t *testing.T, broker Broker, p Processor, workers int, maxInFlight int64) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(broker, p, workers, maxInFlight, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatcher_ProcessesAllBatches(t *testing.T) {
	broker := NewMemoryBroker(64, DeliveryLimit, zap.NewNop())
	p := newStubProcessor()
	startDispatcher(t, broker, p, DefaultWorkers, DefaultMaxInFlight)

	var ids []string
	for range 20 {
		b := testBatch(3)
		ids = append(ids, b.ID.String())
		require.NoError(t, broker.Publish(context.Background(), b))
	}

	require.Eventually(t, func() bool { return p.rowCount() == 60 }, 2*time.Second, 5*time.Millisecond)
	for _, id := range ids {
		assert.Equal(t, 1, p.calls(id))
	}
	assert.Empty(t, broker.DeadLetters())
}

func TestDispatcher_RequeuesOnFailure(t *testing.T) {
	broker := NewMemoryBroker(8, DeliveryLimit, zap.NewNop())
	p := newStubProcessor()
	p.failFirst = 2
	startDispatcher(t, broker, p, 2, 2)

	b := testBatch(4)
	require.NoError(t, broker.Publish(context.Background(), b))

	require.Eventually(t, func() bool { return p.rowCount() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, p.calls(b.ID.String()))
	assert.Empty(t, broker.DeadLetters())
}

func TestDispatcher_DeadLettersAfterDeliveryLimit(t *testing.T) {
	broker := NewMemoryBroker(8, 3, zap.NewNop())
	p := newStubProcessor()
	p.failFirst = 100
	startDispatcher(t, broker, p, 1, 1)

	b := testBatch(1)
	require.NoError(t, broker.Publish(context.Background(), b))

	require.Eventually(t, func() bool { return len(broker.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, p.calls(b.ID.String()))
	assert.Equal(t, b.ID, broker.DeadLetters()[0].MessageID)
}

func TestDispatcher_RedeliveryDuplicatesRows(t *testing.T) {
	broker := NewMemoryBroker(8, DeliveryLimit, zap.NewNop())
	p := newStubProcessor()
	p.failFirst = 1
	p.writeBeforeFail = true
	startDispatcher(t, broker, p, 1, 1)

	require.NoError(t, broker.Publish(context.Background(), testBatch(5)))

	require.Eventually(t, func() bool { return p.rowCount() == 10 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_InFlightCap(t *testing.T) {
	broker := NewMemoryBroker(64, DeliveryLimit, zap.NewNop())
	p := newStubProcessor()
	p.delay = 20 * time.Millisecond
	startDispatcher(t, broker, p, 5, 2)

	for range 12 {
		require.NoError(t, broker.Publish(context.Background(), testBatch(1)))
	}

	require.Eventually(t, func() bool { return p.rowCount() == 12 }, 3*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, p.peak.Load(), int64(2))
	assert.GreaterOrEqual(t, p.peak.Load(), int64(1))
}

func TestMemoryBroker_PublishAfterClose(t *testing.T) {
	broker := NewMemoryBroker(1, DeliveryLimit, zap.NewNop())
	require.NoError(t, broker.Close())
	require.NoError(t, broker.Close())

	err := broker.Publish(context.Background(), testBatch(1))
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestMemoryBroker_PublishRespectsContext(t *testing.T) {
	broker := NewMemoryBroker(1, DeliveryLimit, zap.NewNop())
	require.NoError(t, broker.Publish(context.Background(), testBatch(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := broker.Publish(ctx, testBatch(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnvelope_KeepsBatchIdentity(t *testing.T) {
	b := testBatch(2)
	env := NewEnvelope(b, time.Now())

	got := env.Batch()
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "test", got.Origin)
	assert.Len(t, got.Usages, 2)
}

func TestDeliveryAttempt(t *testing.T) {
	assert.Equal(t, 1, deliveryAttempt(nil))
	assert.Equal(t, 1, deliveryAttempt(amqp.Table{"x-delivery-count": int64(0)}))
	assert.Equal(t, 3, deliveryAttempt(amqp.Table{"x-delivery-count": int64(2)}))
	assert.Equal(t, 2, deliveryAttempt(amqp.Table{"x-delivery-count": int32(1)}))
}
