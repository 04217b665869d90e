package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/bus"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeJobScheduled MessageType = "job.scheduled"
	MessageTypeBroadcast    MessageType = "cluster.broadcast"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// newMessage создаёт сообщение с новым ID.
func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
			string(exchange), string(routingKey),
			false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %q/%s: %w", exchange, routingKey, err)
		}

		// Публикация завершена только после ack брокера
		if confirm != nil {
			acked, err := confirm.WaitContext(ctx)
			if err != nil {
				return fmt.Errorf("wait confirm for %q/%s: %w", exchange, routingKey, err)
			}
			if !acked {
				return fmt.Errorf("%w: %q/%s", ErrNotConfirmed, exchange, routingKey)
			}
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJobScheduled публикует анонс задачи в очередь queue_<queue>.
// Потребитель: ровно один узел, слушающий очередь.
func (p *Publisher) PublishJobScheduled(ctx context.Context, queue string, a bus.Announcement) error {
	msg := newMessage(MessageTypeJobScheduled, a)
	return p.Publish(ctx, ExchangeDefault, RoutingKey(bus.QueueName(queue)), msg)
}

// PublishBroadcast публикует конверт всем узлам кластера.
func (p *Publisher) PublishBroadcast(ctx context.Context, env broadcast.Envelope) error {
	msg := newMessage(MessageTypeBroadcast, env)
	return p.Publish(ctx, ExchangeBroadcast, "", msg)
}
