package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/bus"
)

// Bus — реализация bus.Bus поверх RabbitMQ.
type Bus struct {
	conn      *Connection
	publisher *Publisher
	logger    *slog.Logger
}

var _ bus.Bus = (*Bus)(nil)

// NewBus создаёт шину на существующем соединении.
func NewBus(conn *Connection, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		conn:      conn,
		publisher: NewPublisher(conn, logger),
		logger:    logger,
	}
}

// DeclareQueue объявляет durable очередь queue_<queue>.
func (b *Bus) DeclareQueue(ctx context.Context, queue string) error {
	return b.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		_, err := DeclareJobQueue(ch, queue)
		return err
	})
}

// Announce публикует анонс задачи.
func (b *Bus) Announce(ctx context.Context, queue string, a bus.Announcement) error {
	return b.publisher.PublishJobScheduled(ctx, queue, a)
}

// Subscribe запускает consumer очереди задач с ручным подтверждением.
// Подписка живёт до Stop или отмены ctx.
func (b *Bus) Subscribe(ctx context.Context, queue string, h bus.AnnouncementHandler) (bus.Subscription, error) {
	if err := b.DeclareQueue(ctx, queue); err != nil {
		return nil, err
	}

	consumer := NewConsumer(b.conn, b.logger, ConsumerConfig{
		Name: bus.QueueName(queue),
		Setup: func(ch *amqp.Channel) (Queue, error) {
			return DeclareJobQueue(ch, queue)
		},
		Prefetch:  JobPrefetch,
		ManualAck: true,
		Handler: func(ctx context.Context, d *Delivery) error {
			a, err := ParsePayload[bus.Announcement](&d.Message)
			if err != nil {
				// Анонс без job id выполнить нельзя
				d.Ack()
				return fmt.Errorf("parse announcement: %w", err)
			}
			h(ctx, a, d)
			return nil
		},
	})

	go b.run(ctx, consumer)

	return consumer, nil
}

// Broadcast публикует конверт в fan-out обменник.
func (b *Bus) Broadcast(ctx context.Context, env broadcast.Envelope) error {
	return b.publisher.PublishBroadcast(ctx, env)
}

// SubscribeBroadcast запускает consumer эксклюзивной broadcast-очереди узла.
func (b *Bus) SubscribeBroadcast(ctx context.Context, h bus.BroadcastHandler) (bus.Subscription, error) {
	if err := SetupTopology(ctx, b.conn); err != nil {
		return nil, err
	}

	consumer := NewConsumer(b.conn, b.logger, ConsumerConfig{
		Name:     string(ExchangeBroadcast),
		Setup:    DeclareBroadcastQueue,
		Prefetch: BroadcastPrefetch,
		Handler: func(ctx context.Context, d *Delivery) error {
			env, err := ParsePayload[broadcast.Envelope](&d.Message)
			if err != nil {
				return fmt.Errorf("parse envelope: %w", err)
			}
			h(ctx, env)
			return nil
		},
	})

	go b.run(ctx, consumer)

	return consumer, nil
}

func (b *Bus) run(ctx context.Context, c *Consumer) {
	if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("consumer stopped", "consumer", c.name, "error", err)
	}
}
