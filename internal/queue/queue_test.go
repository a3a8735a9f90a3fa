package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/model"
)

func TestInFlight_WaitsForSettlement(t *testing.T) {
	var pending inFlight
	var acked, nacked int

	first := pending.track(Delivery{ack: func() error { acked++; return nil }})
	second := pending.track(Delivery{nack: func(bool) error { nacked++; return nil }})

	assert.False(t, pending.wait(20*time.Millisecond))

	require.NoError(t, first.Ack())
	require.NoError(t, first.Ack())
	assert.False(t, pending.wait(20*time.Millisecond))

	require.NoError(t, second.Nack(true))
	assert.True(t, pending.wait(time.Second))

	assert.Equal(t, 2, acked)
	assert.Equal(t, 1, nacked)
}

func TestInFlight_EmptyDoesNotBlock(t *testing.T) {
	var pending inFlight
	assert.True(t, pending.wait(time.Millisecond))
}

// recordingBroker выдаёт заранее заданные доставки и запоминает их подтверждения.
type recordingBroker struct {
	deliveries chan Delivery
	pending    inFlight

	mu     sync.Mutex
	acks   int
	nacks  int
	closed bool
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{deliveries: make(chan Delivery, 1)}
}

func (b *recordingBroker) push(batch model.Batch) {
	b.deliveries <- b.pending.track(Delivery{
		Envelope: NewEnvelope(batch, time.Now()),
		Attempt:  1,
		ack: func() error {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return ErrBrokerClosed
			}
			b.acks++
			return nil
		},
		nack: func(bool) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.nacks++
			return nil
		},
	})
}

func (b *recordingBroker) Publish(ctx context.Context, batch model.Batch) error { return nil }

func (b *recordingBroker) Consume(ctx context.Context, _ int) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.pending.wait(time.Second)
				b.mu.Lock()
				b.closed = true
				b.mu.Unlock()
				return
			case d := <-b.deliveries:
				out <- d
			}
		}
	}()
	return out, nil
}

func (b *recordingBroker) Close() error { return nil }

type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) ProcessBatch(ctx context.Context, batch model.Batch) (*model.BatchOutcome, error) {
	close(p.started)
	<-p.release
	return &model.BatchOutcome{BatchID: batch.ID, Processed: len(batch.Usages)}, nil
}

func TestDispatcher_AcksBatchFinishedAfterShutdown(t *testing.T) {
	broker := newRecordingBroker()
	p := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(broker, p, 1, 1, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	broker.push(testBatch(3))
	<-p.started

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(p.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return broker.closed
	}, time.Second, 5*time.Millisecond)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, 1, broker.acks)
	assert.Equal(t, 0, broker.nacks)
}
