package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mmeshcher/tollgate/internal/metrics"
	"github.com/mmeshcher/tollgate/internal/model"
)

const (
	// DefaultWorkers задаёт число обработчиков по умолчанию.
	DefaultWorkers = 5
	// DefaultMaxInFlight ограничивает число одновременно записываемых пакетов.
	DefaultMaxInFlight = 10
)

// Processor обрабатывает пакет целиком.
type Processor interface {
	ProcessBatch(ctx context.Context, batch model.Batch) (*model.BatchOutcome, error)
}

// Dispatcher забирает пакеты из очереди фиксированным числом обработчиков.
// Успешно обработанные сообщения подтверждаются, неудачные возвращаются в
// очередь для повторной доставки. Повторная доставка может записать пакет
// дважды.
type Dispatcher struct {
	broker    Broker
	processor Processor
	workers   int
	inFlight  *semaphore.Weighted
	prefetch  int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDispatcher создаёт диспетчер. Неположительные значения заменяются значениями по умолчанию.
func NewDispatcher(broker Broker, processor Processor, workers int, maxInFlight int64, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Dispatcher{
		broker:    broker,
		processor: processor,
		workers:   workers,
		inFlight:  semaphore.NewWeighted(maxInFlight),
		prefetch:  int(maxInFlight),
		metrics:   m,
		logger:    logger.Named("dispatcher"),
	}
}

// Run обрабатывает сообщения до отмены ctx. Начатая обработка пакета
// доводится до конца даже после отмены.
func (d *Dispatcher) Run(ctx context.Context) error {
	deliveries, err := d.broker.Consume(ctx, d.prefetch)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	d.logger.Info("dispatcher started", zap.Int("workers", d.workers))

	var g errgroup.Group
	for i := range d.workers {
		g.Go(func() error {
			d.work(ctx, i, deliveries)
			return nil
		})
	}

	err = g.Wait()
	d.logger.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context, id int, deliveries <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case dl, ok := <-deliveries:
			if !ok {
				return
			}
			d.handle(ctx, id, dl)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, worker int, dl Delivery) {
	log := d.logger.With(
		zap.Int("worker", worker),
		zap.String("messageID", dl.Envelope.MessageID.String()),
		zap.Int("attempt", dl.Attempt),
	)

	if err := d.inFlight.Acquire(ctx, 1); err != nil {
		if nackErr := dl.Nack(true); nackErr != nil {
			log.Error("nack message error", zap.Error(nackErr))
		}
		return
	}
	defer d.inFlight.Release(1)

	outcome, err := d.processor.ProcessBatch(context.WithoutCancel(ctx), dl.Envelope.Batch())
	if err != nil {
		log.Error("process batch error, requeueing", zap.Error(err))
		d.metrics.IncProcessed("requeued")
		if nackErr := dl.Nack(true); nackErr != nil {
			log.Error("nack message error", zap.Error(nackErr))
		}
		return
	}

	if err := dl.Ack(); err != nil {
		log.Error("ack message error", zap.Error(err))
	}
	d.metrics.IncProcessed("acked")

	log.Info("queued batch processed",
		zap.Int("processed", outcome.Processed),
		zap.Int("errored", outcome.Errored),
	)
}
