package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/model"
)

type memoryMessage struct {
	envelope Envelope
	attempt  int
}

// MemoryBroker хранит очередь в памяти процесса. Используется, когда RabbitMQ не
// настроен. Сообщения не переживают перезапуск.
type MemoryBroker struct {
	messages    chan memoryMessage
	done        chan struct{}
	closeOnce   sync.Once
	maxAttempts int
	logger      *zap.Logger

	mu   sync.Mutex
	dead []Envelope
}

// NewMemoryBroker создаёт очередь ёмкостью capacity. Сообщение, отклонённое
// maxAttempts раз, перемещается в список недоставленных.
func NewMemoryBroker(capacity, maxAttempts int, logger *zap.Logger) *MemoryBroker {
	return &MemoryBroker{
		messages:    make(chan memoryMessage, capacity),
		done:        make(chan struct{}),
		maxAttempts: maxAttempts,
		logger:      logger.Named("memory-broker"),
	}
}

// Publish ставит пакет в очередь, ожидая свободного места.
func (b *MemoryBroker) Publish(ctx context.Context, batch model.Batch) error {
	msg := memoryMessage{envelope: NewEnvelope(batch, time.Now()), attempt: 1}

	select {
	case <-b.done:
		return ErrBrokerClosed
	default:
	}

	select {
	case <-b.done:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.messages <- msg:
		return nil
	}
}

// Consume возвращает канал доставок. Канал закрывается при отмене ctx или закрытии брокера.
func (b *MemoryBroker) Consume(ctx context.Context, _ int) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg := <-b.messages:
				select {
				case out <- b.delivery(msg):
				case <-ctx.Done():
					b.requeue(msg)
					return
				case <-b.done:
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *MemoryBroker) delivery(msg memoryMessage) Delivery {
	return Delivery{
		Envelope: msg.envelope,
		Attempt:  msg.attempt,
		ack:      func() error { return nil },
		nack: func(requeue bool) error {
			if requeue && msg.attempt < b.maxAttempts {
				b.requeue(memoryMessage{envelope: msg.envelope, attempt: msg.attempt + 1})
				return nil
			}
			b.deadLetter(msg.envelope)
			return nil
		},
	}
}

func (b *MemoryBroker) requeue(msg memoryMessage) {
	select {
	case b.messages <- msg:
	default:
		b.logger.Warn("queue is full, dropping redelivery", zap.String("messageID", msg.envelope.MessageID.String()))
		b.deadLetter(msg.envelope)
	}
}

func (b *MemoryBroker) deadLetter(e Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = append(b.dead, e)
	b.logger.Warn("message dead-lettered", zap.String("messageID", e.MessageID.String()))
}

// DeadLetters возвращает сообщения, исчерпавшие попытки доставки.
func (b *MemoryBroker) DeadLetters() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.dead...)
}

// Close останавливает выдачу сообщений.
func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
