package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/model"
)

const (
	// DeliveryLimit задаёт число доставок, после которого сообщение уходит в очередь ошибок.
	DeliveryLimit = 5

	// DrainTimeout ограничивает ожидание подтверждения выданных сообщений при остановке.
	DrainTimeout = 5 * time.Minute

	maxReconnectBackoff = 30 * time.Second
)

// ErrNotConfirmed возвращается, если брокер не подтвердил публикацию.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// RabbitBroker хранит пакеты в долговечной quorum-очереди RabbitMQ.
// Публикация завершается только после подтверждения брокером.
type RabbitBroker struct {
	url    string
	queue  string
	logger *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	closed bool

	consumers sync.WaitGroup
}

// NewRabbitBroker подключается к RabbitMQ и объявляет очереди.
func NewRabbitBroker(url, queue string, logger *zap.Logger) (*RabbitBroker, error) {
	b := &RabbitBroker{
		url:    url,
		queue:  queue,
		logger: logger.Named("rabbitmq"),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.publishChannel(); err != nil {
		return nil, err
	}

	return b, nil
}

// ErrorQueue возвращает имя очереди недоставленных сообщений.
func (b *RabbitBroker) ErrorQueue() string {
	return b.queue + ".error"
}

func (b *RabbitBroker) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(b.ErrorQueue(), true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		return fmt.Errorf("declare error queue: %w", err)
	}

	if _, err := ch.QueueDeclare(b.queue, true, false, false, false, amqp.Table{
		"x-queue-type":              "quorum",
		"x-delivery-limit":          DeliveryLimit,
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": b.ErrorQueue(),
	}); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	return nil
}

// publishChannel возвращает канал публикации, переподключаясь при необходимости.
// Вызывается под b.mu.
func (b *RabbitBroker) publishChannel() (*amqp.Channel, error) {
	if b.closed {
		return nil, ErrBrokerClosed
	}
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}

	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		b.conn = conn
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	if err := b.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	b.pubCh = ch
	return ch, nil
}

// Publish публикует пакет как постоянное сообщение и ждёт подтверждения брокера.
func (b *RabbitBroker) Publish(ctx context.Context, batch model.Batch) error {
	body, err := json.Marshal(NewEnvelope(batch, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		return err
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    batch.ID.String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		b.resetPublisher()
		return fmt.Errorf("publish: %w", err)
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		b.resetPublisher()
		return fmt.Errorf("wait confirm: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}

	return nil
}

func (b *RabbitBroker) resetPublisher() {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
		b.pubCh = nil
	}
}

// Consume запускает получение сообщений с ограничением prefetch. При обрыве
// соединения переподключается с экспоненциальной паузой. При отмене ctx
// получение прекращается, но канал остаётся открытым, пока выданные
// сообщения не подтверждены, после чего выходной канал закрывается.
func (b *RabbitBroker) Consume(ctx context.Context, prefetch int) (<-chan Delivery, error) {
	out := make(chan Delivery)

	b.consumers.Add(1)
	go func() {
		defer b.consumers.Done()
		defer close(out)

		backoff := time.Second
		for {
			err := b.consumeOnce(ctx, prefetch, out)
			if ctx.Err() != nil {
				return
			}

			b.logger.Warn("consume loop ended, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if backoff < maxReconnectBackoff {
				backoff *= 2
			}
		}
	}()

	return out, nil
}

func (b *RabbitBroker) consumeOnce(ctx context.Context, prefetch int, out chan<- Delivery) error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := b.declare(ch); err != nil {
		return err
	}

	tag := "tollgate-" + uuid.NewString()
	msgs, err := ch.Consume(b.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	var pending inFlight
	for {
		select {
		case <-ctx.Done():
			b.drain(ch, tag, msgs, &pending)
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}

			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				b.logger.Error("malformed message rejected", zap.Error(err), zap.String("messageID", d.MessageId))
				_ = d.Nack(false, false)
				continue
			}

			delivery := pending.track(Delivery{
				Envelope: env,
				Attempt:  deliveryAttempt(d.Headers),
				ack:      func() error { return d.Ack(false) },
				nack:     func(requeue bool) error { return d.Nack(false, requeue) },
			})

			select {
			case out <- delivery:
			case <-ctx.Done():
				_ = delivery.Nack(true)
				b.drain(ch, tag, msgs, &pending)
				return ctx.Err()
			}
		}
	}
}

// drain останавливает получение, возвращает в очередь сообщения, не
// выданные обработчикам, и ждёт подтверждения уже выданных. Канал
// закрывается вызывающим после возврата.
func (b *RabbitBroker) drain(ch *amqp.Channel, tag string, msgs <-chan amqp.Delivery, pending *inFlight) {
	if err := ch.Cancel(tag, false); err != nil {
		b.logger.Warn("cancel consumer error", zap.Error(err))
	} else {
		for d := range msgs {
			_ = d.Nack(false, true)
		}
	}

	if !pending.wait(DrainTimeout) {
		b.logger.Warn("in-flight messages not settled before shutdown, broker will redeliver them")
	}
}

// deliveryAttempt вычисляет номер попытки по заголовку x-delivery-count quorum-очереди.
func deliveryAttempt(headers amqp.Table) int {
	switch v := headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	default:
		return 1
	}
}

// Close дожидается остановки получателей и закрывает соединение публикации.
// Получатели останавливаются отменой контекста, переданного в Consume.
func (b *RabbitBroker) Close() error {
	b.consumers.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.resetPublisher()
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}
