package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Quorum/internal/bus"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

const (
	// ExchangeBroadcast — fan-out обменник для сообщений всем узлам.
	ExchangeBroadcast Exchange = "quorum.broadcast"

	// ExchangeDefault — default exchange брокера: routing key = имя очереди.
	ExchangeDefault Exchange = ""
)

// JobPrefetch — сколько неподтверждённых анонсов может держать consumer.
// Каждая ожидающая задача держит один анонс до выполнения.
const JobPrefetch = 65535

// JobConsumerTimeout — x-consumer-timeout очередей задач.
// Анонс остаётся неподтверждённым до run_at, поэтому брокерский
// consumer_timeout (30 минут по умолчанию) закрыл бы канал раньше.
// Для задач дальше этого окна consumer_timeout брокера нужно отключить.
const JobConsumerTimeout = 30 * 24 * time.Hour

// BroadcastPrefetch — prefetch для consumer'а broadcast-сообщений.
const BroadcastPrefetch = 64

// SetupTopology объявляет обменники кластера.
// Очереди задач объявляются по требованию (DeclareJobQueue).
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, declareExchanges)
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeBroadcast, amqp.ExchangeFanout},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// jobQueueArgs — аргументы очереди задач.
func jobQueueArgs() amqp.Table {
	return amqp.Table{
		"x-consumer-timeout": JobConsumerTimeout.Milliseconds(),
	}
}

// DeclareJobQueue объявляет durable очередь задач "queue_<name>".
// Требует RabbitMQ 3.12+ (x-consumer-timeout).
func DeclareJobQueue(ch *amqp.Channel, queue string) (Queue, error) {
	name := bus.QueueName(queue)
	_, err := ch.QueueDeclare(
		name,           // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		jobQueueArgs(), // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	return Queue(name), nil
}

// DeclareBroadcastQueue объявляет эксклюзивную очередь узла
// и привязывает её к ExchangeBroadcast.
//
// Имя очереди генерирует брокер; очередь удаляется вместе с соединением,
// поэтому после reconnect её нужно объявить заново.
func DeclareBroadcastQueue(ch *amqp.Channel) (Queue, error) {
	if err := declareExchanges(ch); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		"",    // name (генерирует брокер)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare broadcast queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,                    // queue name
		"",                        // routing key (fanout игнорирует)
		string(ExchangeBroadcast), // exchange
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return "", fmt.Errorf("bind queue %s to %s: %w", q.Name, ExchangeBroadcast, err)
	}

	return Queue(q.Name), nil
}
