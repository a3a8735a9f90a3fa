// Package queue реализует асинхронную обработку пакетов проездов: брокеры
// сообщений и пул обработчиков, забирающих пакеты из очереди.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/tollgate/internal/model"
)

// ErrBrokerClosed возвращается при обращении к закрытому брокеру.
var ErrBrokerClosed = errors.New("broker is closed")

// Envelope описывает сообщение очереди с пакетом проездов.
type Envelope struct {
	MessageID  uuid.UUID          `json:"messageId"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
	Origin     string             `json:"origin,omitempty"`
	Usages     []model.UsageInput `json:"usages"`
}

// NewEnvelope упаковывает пакет. Идентификатор сообщения совпадает с идентификатором пакета.
func NewEnvelope(batch model.Batch, now time.Time) Envelope {
	return Envelope{
		MessageID:  batch.ID,
		EnqueuedAt: now.UTC(),
		Origin:     batch.Origin,
		Usages:     batch.Usages,
	}
}

// Batch восстанавливает пакет из сообщения.
func (e Envelope) Batch() model.Batch {
	return model.Batch{
		ID:          e.MessageID,
		SubmittedAt: e.EnqueuedAt,
		Origin:      e.Origin,
		Usages:      e.Usages,
	}
}

// Delivery описывает полученное сообщение, которое нужно подтвердить или вернуть.
type Delivery struct {
	Envelope Envelope
	// Attempt содержит номер попытки доставки, начиная с единицы.
	Attempt int

	ack  func() error
	nack func(requeue bool) error
}

// Ack подтверждает обработку сообщения.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack отклоняет сообщение. При requeue брокер доставит его повторно.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Broker публикует пакеты и выдаёт их обработчикам.
type Broker interface {
	Publish(ctx context.Context, batch model.Batch) error
	Consume(ctx context.Context, prefetch int) (<-chan Delivery, error)
	Close() error
}

// inFlight учитывает выданные обработчикам, но ещё не подтверждённые сообщения.
type inFlight struct {
	wg sync.WaitGroup
}

// track оборачивает Ack и Nack доставки так, что первый из них снимает её с учёта.
func (f *inFlight) track(d Delivery) Delivery {
	f.wg.Add(1)
	settle := sync.OnceFunc(f.wg.Done)

	ack, nack := d.ack, d.nack
	d.ack = func() error {
		defer settle()
		if ack == nil {
			return nil
		}
		return ack()
	}
	d.nack = func(requeue bool) error {
		defer settle()
		if nack == nil {
			return nil
		}
		return nack(requeue)
	}
	return d
}

// wait ждёт подтверждения всех выданных сообщений не дольше timeout.
// Возвращает false, если время вышло.
func (f *inFlight) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
