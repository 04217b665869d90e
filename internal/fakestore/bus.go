package fakestore

import (
	"context"
	"errors"
	"sync"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/bus"
)

// Ошибки шины в памяти.
var (
	// ErrAlreadyAcked — повторный ack одного сообщения.
	ErrAlreadyAcked = errors.New("delivery already acknowledged")

	// ErrChannelClosed — ack после падения узла-получателя.
	ErrChannelClosed = errors.New("delivery channel closed")
)

// Bus — брокер в памяти, общий для всех узлов теста.
//
// Анонс получает ровно один подписчик очереди (round-robin). Пока анонс
// не подтверждён, он принадлежит подписчику; Crash клиента возвращает
// неподтверждённые анонсы в очередь с флагом Redelivered.
type Bus struct {
	mu         sync.Mutex
	queues     map[string]*queueState
	broadcasts map[*broadcastSub]struct{}

	acks       int
	doubleAcks int
	announced  int
}

type queueState struct {
	pending   []message
	consumers []*jobSub
	next      int
}

type message struct {
	a           bus.Announcement
	redelivered bool
}

// NewBus создаёт брокер.
func NewBus() *Bus {
	return &Bus{
		queues:     make(map[string]*queueState),
		broadcasts: make(map[*broadcastSub]struct{}),
	}
}

// Client возвращает подключение узла к брокеру.
func (b *Bus) Client() *BusClient {
	return &BusClient{bus: b}
}

// Acks возвращает количество успешных ack.
func (b *Bus) Acks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks
}

// DoubleAcks возвращает количество повторных ack одного сообщения.
func (b *Bus) DoubleAcks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doubleAcks
}

// Announced возвращает количество опубликованных анонсов.
func (b *Bus) Announced() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.announced
}

// Pending возвращает количество анонсов очереди, ещё не выданных подписчикам.
func (b *Bus) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.pending)
	}
	return 0
}

func (b *Bus) queue(name string) *queueState {
	q, ok := b.queues[name]
	if !ok {
		q = &queueState{}
		b.queues[name] = q
	}
	return q
}

// route отдаёт сообщение следующему подписчику или откладывает его.
// Вызывается под b.mu.
func (b *Bus) route(queue string, msg message) {
	q := b.queue(queue)
	if len(q.consumers) == 0 {
		q.pending = append(q.pending, msg)
		return
	}
	sub := q.consumers[q.next%len(q.consumers)]
	q.next++
	sub.enqueue(msg)
}

func (b *Bus) removeConsumer(queue string, sub *jobSub) {
	q := b.queue(queue)
	for i, c := range q.consumers {
		if c == sub {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			return
		}
	}
}

// BusClient — подключение узла, реализует bus.Bus.
type BusClient struct {
	bus *Bus

	mu         sync.Mutex
	subs       []*jobSub
	broadcasts []*broadcastSub
	failures   error
}

var _ bus.Bus = (*BusClient)(nil)

// FailPublish включает отказ Announce и Broadcast.
func (c *BusClient) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = err
}

func (c *BusClient) publishErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// DeclareQueue объявляет очередь.
func (c *BusClient) DeclareQueue(ctx context.Context, queue string) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.bus.queue(queue)
	return ctx.Err()
}

// Announce публикует анонс.
func (c *BusClient) Announce(ctx context.Context, queue string, a bus.Announcement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.publishErr(); err != nil {
		return err
	}

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	c.bus.announced++
	c.bus.route(queue, message{a: a})
	return nil
}

// Subscribe подписывает узел на очередь.
func (c *BusClient) Subscribe(ctx context.Context, queue string, h bus.AnnouncementHandler) (bus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &jobSub{
		bus:     c.bus,
		queue:   queue,
		handler: h,
		ctx:     context.WithoutCancel(ctx),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		unacked: make(map[*delivery]struct{}),
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.bus.mu.Lock()
	q := c.bus.queue(queue)
	q.consumers = append(q.consumers, sub)
	pending := q.pending
	q.pending = nil
	for _, msg := range pending {
		c.bus.route(queue, msg)
	}
	c.bus.mu.Unlock()

	go sub.run()
	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Broadcast рассылает конверт всем подписчикам, включая отправителя.
func (c *BusClient) Broadcast(ctx context.Context, env broadcast.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.publishErr(); err != nil {
		return err
	}

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	for sub := range c.bus.broadcasts {
		sub.enqueue(env)
	}
	return nil
}

// SubscribeBroadcast подписывает узел на broadcast.
func (c *BusClient) SubscribeBroadcast(ctx context.Context, h bus.BroadcastHandler) (bus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &broadcastSub{
		bus:     c.bus,
		handler: h,
		ctx:     context.WithoutCancel(ctx),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.broadcasts = append(c.broadcasts, sub)
	c.mu.Unlock()

	c.bus.mu.Lock()
	c.bus.broadcasts[sub] = struct{}{}
	c.bus.mu.Unlock()

	go sub.run()
	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Crash имитирует падение узла: подписки останавливаются,
// неподтверждённые анонсы возвращаются в очереди как redelivered.
func (c *BusClient) Crash() {
	c.mu.Lock()
	subs := c.subs
	bsubs := c.broadcasts
	c.subs, c.broadcasts = nil, nil
	c.mu.Unlock()

	for _, sub := range bsubs {
		sub.Stop()
	}
	for _, sub := range subs {
		sub.crash()
	}
}

// delivery — выданный подписчику анонс.
type delivery struct {
	sub         *jobSub
	msg         message
	acked       bool
	dead        bool
	redelivered bool
}

func (d *delivery) Ack() error {
	b := d.sub.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if d.dead {
		return ErrChannelClosed
	}
	if d.acked {
		b.doubleAcks++
		return ErrAlreadyAcked
	}
	d.acked = true
	b.acks++
	delete(d.sub.unacked, d)
	return nil
}

func (d *delivery) Redelivered() bool {
	return d.redelivered
}

// jobSub — подписка на очередь задач. Сообщения доставляются
// последовательно отдельной горутиной.
// Поля pending, unacked, stopped защищены bus.mu.
type jobSub struct {
	bus     *Bus
	queue   string
	handler bus.AnnouncementHandler
	ctx     context.Context

	pending []message
	unacked map[*delivery]struct{}
	stopped bool

	signal   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// enqueue вызывается под bus.mu.
func (s *jobSub) enqueue(msg message) {
	s.pending = append(s.pending, msg)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *jobSub) run() {
	for {
		s.bus.mu.Lock()
		if s.stopped {
			s.bus.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			s.bus.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		msg := s.pending[0]
		s.pending = s.pending[1:]
		d := &delivery{sub: s, msg: msg, redelivered: msg.redelivered}
		s.unacked[d] = struct{}{}
		s.bus.mu.Unlock()

		s.handler(s.ctx, msg.a, d)
	}
}

// Stop прекращает выдачу новых сообщений. Невыданные возвращаются
// в очередь, выданные остаются за подписчиком.
func (s *jobSub) Stop() {
	s.stopOnce.Do(func() {
		s.bus.mu.Lock()
		s.stopped = true
		s.bus.removeConsumer(s.queue, s)
		pending := s.pending
		s.pending = nil
		for _, msg := range pending {
			s.bus.route(s.queue, msg)
		}
		s.bus.mu.Unlock()
		close(s.done)
	})
}

func (s *jobSub) crash() {
	s.Stop()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for d := range s.unacked {
		d.dead = true
		delete(s.unacked, d)
		s.bus.route(s.queue, message{a: d.msg.a, redelivered: true})
	}
}

// broadcastSub — подписка на broadcast.
type broadcastSub struct {
	bus     *Bus
	handler bus.BroadcastHandler
	ctx     context.Context

	pending []broadcast.Envelope

	signal   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// enqueue вызывается под bus.mu.
func (s *broadcastSub) enqueue(env broadcast.Envelope) {
	s.pending = append(s.pending, env)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *broadcastSub) run() {
	for {
		s.bus.mu.Lock()
		if len(s.pending) == 0 {
			s.bus.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		env := s.pending[0]
		s.pending = s.pending[1:]
		s.bus.mu.Unlock()

		select {
		case <-s.done:
			return
		default:
		}

		s.handler(s.ctx, env)
	}
}

func (s *broadcastSub) Stop() {
	s.stopOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.broadcasts, s)
		s.pending = nil
		s.bus.mu.Unlock()
		close(s.done)
	})
}
