// Package bus описывает контракт шины сообщений, которую использует
// планировщик задач.
//
// Шина предоставляет:
//   - point-to-point очереди "queue_<name>": каждый анонс получает
//     ровно один consumer, подтверждение — ручное;
//   - fan-out broadcast: сообщение получают все живые узлы.
//
// Реализации: mq.Bus (RabbitMQ), fakestore.Bus (память, для тестов).
package bus

import (
	"context"
	"time"

	"github.com/shaiso/Quorum/internal/broadcast"
)

// QueuePrefix — префикс имени очереди задач.
const QueuePrefix = "queue_"

// QueueName возвращает имя очереди брокера для логической очереди задач.
func QueueName(queue string) string {
	return QueuePrefix + queue
}

// Announcement — анонс запланированной задачи.
// Забирается ровно одним consumer'ом.
type Announcement struct {
	JobID int64     `json:"job_id"`
	RunAt time.Time `json:"run_at"`
}

// Delivery — доставленный, ещё не подтверждённый анонс.
//
// Пока Ack не вызван, брокер считает сообщение выданным этому узлу.
// Если узел падает, сообщение снова становится видимым другим consumer'ам.
type Delivery interface {
	// Ack подтверждает сообщение.
	Ack() error

	// Redelivered сообщает, что сообщение уже выдавалось ранее.
	Redelivered() bool
}

// AnnouncementHandler обрабатывает анонс. Handler сам отвечает
// за Ack: consumer не подтверждает сообщение после возврата.
type AnnouncementHandler func(ctx context.Context, a Announcement, d Delivery)

// BroadcastHandler обрабатывает широковещательный конверт.
type BroadcastHandler func(ctx context.Context, env broadcast.Envelope)

// Subscription — активная подписка.
type Subscription interface {
	// Stop прекращает получение новых сообщений.
	// Уже выданные, но не подтверждённые сообщения остаются у узла.
	Stop()
}

// Bus — шина сообщений кластера.
type Bus interface {
	// DeclareQueue объявляет очередь задач (идемпотентно).
	DeclareQueue(ctx context.Context, queue string) error

	// Announce публикует анонс в очередь задач.
	Announce(ctx context.Context, queue string, a Announcement) error

	// Subscribe начинает потребление очереди задач.
	Subscribe(ctx context.Context, queue string, h AnnouncementHandler) (Subscription, error)

	// Broadcast публикует конверт всем узлам, включая отправителя.
	Broadcast(ctx context.Context, env broadcast.Envelope) error

	// SubscribeBroadcast начинает получение широковещательных сообщений.
	SubscribeBroadcast(ctx context.Context, h BroadcastHandler) (Subscription, error)
}
