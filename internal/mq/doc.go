// Package mq реализует шину сообщений кластера поверх RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect, канал публикации с confirms,
//     отдельные каналы consumer'ов
//   - topology.go   — объявление обменника и очередей
//   - publisher.go  — публикация анонсов и broadcast-сообщений
//   - consumer.go   — потребление сообщений из очередей
//   - bus.go        — реализация bus.Bus
//
// Брокер:
//
// Анонс задачи остаётся неподтверждённым до её run_at. Очереди задач
// объявляются с x-consumer-timeout = JobConsumerTimeout, что требует
// RabbitMQ 3.12+. Если задачи планируются дальше этого окна, в
// rabbitmq.conf нужно отключить consumer_timeout (advanced.config:
// {rabbit, [{consumer_timeout, undefined}]}). Иначе брокер закроет канал,
// анонсы вернутся в очередь и будут доставлены повторно.
// Очереди, созданные без аргумента, нужно удалить перед обновлением:
// повторное объявление с другими аргументами брокер отклоняет.
//
// Типы сообщений:
//   - job.scheduled     — анонс запланированной задачи (очередь queue_<name>)
//   - cluster.broadcast — конверт broadcast.Envelope (обменник quorum.broadcast)
package mq
