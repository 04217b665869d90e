package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Quorum/internal/telemetry"
)

const (
	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
	heartbeatInterval   = 10 * time.Second
)

// ConnectionOption настраивает Connection.
type ConnectionOption func(*Connection)

// WithConnectionName задаёт имя соединения, видимое в RabbitMQ management.
// Узел передаёт свой node id.
func WithConnectionName(name string) ConnectionOption {
	return func(c *Connection) { c.name = name }
}

// Connection держит AMQP соединение и переподключается при разрыве.
//
// Публикации идут через общий канал в режиме publisher confirms.
// Каждый consumer открывает собственный канал через OpenChannel:
// prefetch и неподтверждённые доставки у разных очередей не смешиваются.
type Connection struct {
	url        string
	name       string
	logger     *slog.Logger
	backoffMin time.Duration
	backoffMax time.Duration

	mu        sync.RWMutex
	conn      *amqp.Connection
	publishCh *amqp.Channel
	closed    bool

	closedCh chan struct{}

	// reconnected закрывается при каждом переподключении и заменяется новым,
	// так что уведомление получают все ожидающие consumer'ы.
	reconnected chan struct{}
}

// NewConnection подключается к RabbitMQ. Первое подключение синхронное:
// недоступный брокер при старте узла — ошибка.
func NewConnection(url string, logger *slog.Logger, opts ...ConnectionOption) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		logger:      logger,
		backoffMin:  defaultReconnectMin,
		backoffMax:  defaultReconnectMax,
		closedCh:    make(chan struct{}),
		reconnected: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, ch, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.conn, c.publishCh = conn, ch

	go c.supervise(conn)

	return c, nil
}

// dial открывает соединение и канал публикации в режиме confirms.
func (c *Connection) dial() (*amqp.Connection, *amqp.Channel, error) {
	props := amqp.NewConnectionProperties()
	if c.name != "" {
		props.SetClientConnectionName(c.name)
	}

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeatInterval,
		Properties: props,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	c.logger.Info("connected to RabbitMQ", "connection_name", c.name)
	return conn, ch, nil
}

// supervise ждёт разрыва текущего соединения и восстанавливает его.
func (c *Connection) supervise(conn *amqp.Connection) {
	for {
		lost := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return
		case err := <-lost:
			if err != nil {
				c.logger.Warn("rabbitmq connection lost", "error", err)
			}
		}

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

// redial повторяет dial с экспоненциальной паузой и jitter.
// Возвращает false, если соединение закрыто через Close.
func (c *Connection) redial() (*amqp.Connection, bool) {
	delay := c.backoffMin

	for attempt := 1; ; attempt++ {
		wait := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
		c.logger.Info("reconnecting to RabbitMQ", "attempt", attempt, "delay", wait)

		select {
		case <-c.closedCh:
			return nil, false
		case <-time.After(wait):
		}

		conn, ch, err := c.dial()
		if err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			delay = min(delay*2, c.backoffMax)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return nil, false
		}
		c.conn, c.publishCh = conn, ch
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()

		telemetry.BusReconnects.Inc()
		return conn, true
	}
}

// OpenChannel открывает новый канал на текущем соединении.
// Канал принадлежит вызывающему и закрывается вместе с соединением.
func (c *Connection) OpenChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNoChannel
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// ReconnectNotify возвращает канал, который закроется при следующем переподключении.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Close закрывает соединение и останавливает переподключение.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	if c.conn == nil {
		return nil
	}
	// Закрытие соединения закрывает и все его каналы
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}

	c.logger.Info("rabbitmq connection closed")
	return nil
}

// IsConnected сообщает, живо ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// WithChannel вызывает fn с каналом публикации.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch := c.publishCh
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}
