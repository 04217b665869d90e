package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// channelRetryDelay — пауза перед повторным открытием канала consumer'а
// при живом соединении.
const channelRetryDelay = time.Second

// Handler — функция обработки сообщения.
// В режиме ManualAck подтверждение делает сам handler,
// иначе consumer подтверждает сообщение после успешного возврата.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение с методами ack/nack.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Redelivered сообщает, выдавалось ли сообщение раньше.
func (d *Delivery) Redelivered() bool {
	return d.Raw.Redelivered
}

// SetupFunc объявляет очередь на канале и возвращает её имя.
// Вызывается перед каждым запуском потребления, в том числе после reconnect.
type SetupFunc func(ch *amqp.Channel) (Queue, error)

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn      *Connection
	logger    *slog.Logger
	name      string
	setup     SetupFunc
	handler   Handler
	prefetch  int
	manualAck bool
	requeue   bool
	tag       string

	mu         sync.Mutex
	channel    *amqp.Channel
	cancelFunc context.CancelFunc
	stopped    bool
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Name — имя для логов.
	Name string

	// Setup — объявление очереди.
	Setup SetupFunc

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество неподтверждённых сообщений у consumer'а.
	Prefetch int

	// ManualAck — handler сам подтверждает сообщения.
	ManualAck bool

	// RequeueOnError — вернуть сообщение в очередь при ошибке handler'а.
	// Игнорируется при ManualAck.
	RequeueOnError bool
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:      conn,
		logger:    logger,
		name:      cfg.Name,
		setup:     cfg.Setup,
		handler:   cfg.Handler,
		prefetch:  prefetch,
		manualAck: cfg.ManualAck,
		requeue:   cfg.RequeueOnError,
		tag:       "quorum-" + uuid.NewString(),
	}
}

// Start запускает потребление сообщений. Блокирует до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.cancelFunc = cancel
	c.mu.Unlock()

	return c.consume(ctx)
}

// consume — основной цикл потребления. После потери канала consumer
// открывает новый: сразу, если соединение живо, иначе после reconnect.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Подписываемся на уведомление до setup, чтобы не пропустить reconnect
		reconnected := c.conn.ReconnectNotify()

		deliveries, err := c.setupConsume()
		if err == nil {
			c.logger.Info("consumer started", "consumer", c.name, "prefetch", c.prefetch)
			err = c.processDeliveries(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("consumer channel lost", "consumer", c.name, "error", err)
		} else {
			c.logger.Error("failed to setup consume", "consumer", c.name, "error", err)
		}

		if err := c.waitRetry(ctx, reconnected); err != nil {
			return err
		}
	}
}

// waitRetry ждёт перед повторным setup. Если соединение живо, упал
// только канал, и reconnect не наступит.
func (c *Consumer) waitRetry(ctx context.Context, reconnected <-chan struct{}) error {
	var retry <-chan time.Time
	if c.conn.IsConnected() {
		t := time.NewTimer(channelRetryDelay)
		defer t.Stop()
		retry = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-reconnected:
		c.logger.Info("reconnected, restarting consumer", "consumer", c.name)
	case <-retry:
	}
	return nil
}

// setupConsume открывает собственный канал consumer'а, объявляет очередь
// и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, err
	}

	deliveries, err := c.startOn(ch)
	if err != nil {
		ch.Close()
		return nil, err
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	return deliveries, nil
}

func (c *Consumer) startOn(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	queue, err := c.setup(ch)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(queue),
		c.tag,
		false, // auto-ack: подтверждаем сами
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// processDeliveries обрабатывает сообщения из канала.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}

			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message",
			"consumer", c.name,
			"error", err,
			"body", string(raw.Body),
		)
		// Некорректное сообщение не станет корректным при повторе
		raw.Nack(false, false)
		return
	}

	delivery := &Delivery{
		Message: msg,
		Raw:     raw,
	}

	c.logger.Debug("received message",
		"consumer", c.name,
		"message_id", msg.ID,
		"type", msg.Type,
		"redelivered", raw.Redelivered,
	)

	err := c.handler(ctx, delivery)
	if err != nil {
		c.logger.Error("handler failed",
			"consumer", c.name,
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
	}

	if c.manualAck {
		return
	}

	if err != nil {
		raw.Nack(false, c.requeue)
		return
	}

	raw.Ack(false)
}

// Stop останавливает consumer. Брокер перестаёт выдавать новые сообщения,
// неподтверждённые остаются за каналом и могут быть подтверждены позже.
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.stopped = true
	ch := c.channel
	cancel := c.cancelFunc
	c.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		if err := ch.Cancel(c.tag, false); err != nil {
			c.logger.Warn("failed to cancel consumer", "consumer", c.name, "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload после json.Unmarshal в Message — это map, перекодируем
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
