package mq

import "errors"

// Ошибки пакета mq.
var (
	// ErrNoChannel — AMQP канал недоступен (нет соединения).
	ErrNoChannel = errors.New("no channel available")

	// ErrDeliveriesClosed — брокер закрыл канал доставки.
	ErrDeliveriesClosed = errors.New("deliveries channel closed")

	// ErrNotConfirmed — брокер ответил nack на публикацию.
	ErrNotConfirmed = errors.New("publish not confirmed by broker")
)
