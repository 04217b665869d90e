package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/bus"
	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultClockTolerance = time.Second
	DefaultStoreRetry     = 5 * time.Second
)

// Config — конфигурация Scheduler.
type Config struct {
	// NodeID — идентификатор узла (для логов).
	NodeID string

	// DefaultQueue — очередь для Schedule без WithQueue.
	DefaultQueue string

	// ClockTolerance — насколько run_at может быть в будущем при
	// срабатывании таймера, чтобы задача всё равно выполнилась.
	ClockTolerance time.Duration

	// StoreRetry — пауза перед повтором, если хранилище недоступно
	// в момент срабатывания таймера.
	StoreRetry time.Duration

	// Logger — логгер. По умолчанию slog.Default().
	Logger *slog.Logger
}

// ClaimedEvent — анонс задачи забран этим узлом.
type ClaimedEvent struct {
	JobID       int64
	Queue       string
	RunAt       time.Time
	Redelivered bool
}

// ScheduleOption настраивает Schedule.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	queue string
}

// WithQueue задаёт очередь задачи.
func WithQueue(queue string) ScheduleOption {
	return func(o *scheduleOptions) { o.queue = queue }
}

// Scheduler — распределённый планировщик задач узла.
type Scheduler struct {
	cfg      Config
	store    Store
	bus      bus.Bus
	kinds    *Registry
	messages *broadcast.Registry
	logger   *slog.Logger

	waiting   waitingJobs
	executing sync.Map

	// ctx живёт до Close; на нём держатся подписки.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	closed    bool
	subs      map[string]bus.Subscription
	broadcast bus.Subscription
	onClaimed []func(ctx context.Context, ev ClaimedEvent)

	running sync.WaitGroup
}

// New создаёт Scheduler и регистрирует обработчики CancelJob
// и RescheduleJob в messages. messages не должен быть заморожен.
func New(cfg Config, store Store, b bus.Bus, kinds *Registry, messages *broadcast.Registry) (*Scheduler, error) {
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = domain.DefaultQueue
	}
	if cfg.ClockTolerance <= 0 {
		cfg.ClockTolerance = DefaultClockTolerance
	}
	if cfg.StoreRetry <= 0 {
		cfg.StoreRetry = DefaultStoreRetry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With("component", "jobs")
	if cfg.NodeID != "" {
		logger = telemetry.WithNodeID(logger, cfg.NodeID)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		bus:      b,
		kinds:    kinds,
		messages: messages,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]bus.Subscription),
	}

	if err := s.registerMessages(); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

// OnClaimed регистрирует callback, вызываемый при получении анонса.
func (s *Scheduler) OnClaimed(fn func(ctx context.Context, ev ClaimedEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClaimed = append(s.onClaimed, fn)
}

// Start подписывает узел на broadcast-сообщения.
// Оба реестра должны быть заморожены.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.kinds.Frozen() {
		return ErrRegistryOpen
	}
	if !s.messages.Frozen() {
		return broadcast.ErrRegistryOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	sub, err := s.bus.SubscribeBroadcast(s.ctx, s.handleBroadcast)
	if err != nil {
		return fmt.Errorf("subscribe broadcast: %w", err)
	}

	s.broadcast = sub
	s.started = true
	s.logger.Info("scheduler started", "kinds", s.kinds.Kinds())
	return nil
}

// Schedule сохраняет задачу и публикует анонс.
// Если анонс опубликовать не удалось, строка удаляется.
func (s *Scheduler) Schedule(ctx context.Context, job Job, runAt time.Time, opts ...ScheduleOption) (int64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}

	o := scheduleOptions{queue: s.cfg.DefaultQueue}
	for _, opt := range opts {
		opt(&o)
	}
	if o.queue == "" {
		o.queue = s.cfg.DefaultQueue
	}

	kind, payload, err := s.kinds.encode(job)
	if err != nil {
		return 0, err
	}

	row := &domain.ScheduledJob{
		BackingType: kind,
		Payload:     payload,
		Queue:       o.queue,
		RunAt:       runAt,
	}
	if err := s.store.Save(ctx, row); err != nil {
		return 0, fmt.Errorf("save job: %w", err)
	}

	logger := telemetry.WithJobID(s.logger, row.ID)

	if err := s.announce(ctx, row); err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), row.ID); delErr != nil {
			logger.Error("failed to delete unannounced job", "error", delErr)
		}
		return 0, err
	}

	telemetry.JobsScheduled.WithLabelValues(o.queue).Inc()
	logger.Debug("job scheduled", "kind", kind, "queue", o.queue, "run_at", runAt)

	return row.ID, nil
}

func (s *Scheduler) announce(ctx context.Context, row *domain.ScheduledJob) error {
	if err := s.bus.DeclareQueue(ctx, row.Queue); err != nil {
		return fmt.Errorf("declare queue %s: %w", row.Queue, err)
	}
	if err := s.bus.Announce(ctx, row.Queue, bus.Announcement{JobID: row.ID, RunAt: row.RunAt}); err != nil {
		return fmt.Errorf("announce job %d: %w", row.ID, err)
	}
	return nil
}

// Cancel отменяет задачу.
//
// Если узел держит задачу, её таймер останавливается, а анонс
// подтверждается. С broadcast строка удаляется и всем узлам
// рассылается CancelJob. Возвращает true, если задача снята локально
// или отмена разослана.
func (s *Scheduler) Cancel(ctx context.Context, id int64, broadcast bool) (bool, error) {
	removed := s.cancelLocal(id)

	if !broadcast {
		return removed, nil
	}

	// Строка удаляется до рассылки: владелец, у которого таймер
	// сработает раньше CancelJob, увидит пропавшую строку и не выполнит задачу.
	// CancelJob рассылается и при ошибке удаления.
	delErr := s.store.Delete(ctx, id)

	if err := s.publish(ctx, CancelJob{ID: id}); err != nil {
		s.logger.Warn("failed to broadcast cancel",
			"job_id", id,
			"row_deleted", delErr == nil,
			"error", err,
		)
	}

	if delErr != nil {
		return removed, fmt.Errorf("delete job %d: %w", id, delErr)
	}
	return true, nil
}

func (s *Scheduler) cancelLocal(id int64) bool {
	e, ok := s.waiting.take(id)
	if !ok {
		return false
	}

	e.stop()
	s.ack(e)
	telemetry.JobsCanceled.Inc()
	telemetry.WithJobID(s.logger, id).Info("job canceled")
	return true
}

// Reschedule переносит задачу на newTime.
//
// С broadcast время должно быть в будущем: новое run_at сохраняется
// и всем узлам рассылается RescheduleJob. Без broadcast задачу
// перевзводит только узел, который её держит; прошедшее время
// означает немедленное выполнение.
func (s *Scheduler) Reschedule(ctx context.Context, id int64, newTime time.Time, broadcast bool) error {
	if !broadcast {
		s.rescheduleLocal(ctx, id, newTime)
		return nil
	}

	if !newTime.After(time.Now()) {
		return ErrRescheduleInPast
	}

	if err := s.store.UpdateRunAt(ctx, id, newTime); err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}

	if err := s.publish(ctx, RescheduleJob{ID: id, Time: newTime}); err != nil {
		return fmt.Errorf("broadcast reschedule: %w", err)
	}

	return nil
}

func (s *Scheduler) rescheduleLocal(ctx context.Context, id int64, newTime time.Time) {
	old, ok := s.waiting.load(id)
	if !ok {
		return
	}

	next := old.withRunAt(newTime)
	if !s.waiting.replace(id, old, next) {
		// Запись уже снята таймером или отменой
		return
	}

	old.stop()
	next.arm(time.Until(newTime), func() { s.fire(next) })

	if err := s.store.UpdateRunAt(ctx, id, newTime); err != nil && !errors.Is(err, ErrJobNotFound) {
		telemetry.WithJobID(s.logger, id).Warn("failed to persist rescheduled run_at", "error", err)
	}

	telemetry.WithJobID(s.logger, id).Info("job rescheduled", "run_at", newTime)
}

// Listen начинает потребление очереди. Повторный вызов для той же
// очереди ничего не делает.
func (s *Scheduler) Listen(ctx context.Context, queue string) error {
	if queue == "" {
		queue = s.cfg.DefaultQueue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.started {
		return ErrNotStarted
	}
	if _, ok := s.subs[queue]; ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sub, err := s.bus.Subscribe(s.ctx, queue, func(ctx context.Context, a bus.Announcement, d bus.Delivery) {
		s.claim(ctx, queue, a, d)
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", queue, err)
	}

	s.subs[queue] = sub
	s.logger.Info("listening on queue", "queue", queue)
	return nil
}

// Unlisten прекращает получение новых анонсов очереди.
// Уже взведённые задачи остаются взведёнными.
func (s *Scheduler) Unlisten(queue string) error {
	s.mu.Lock()
	sub, ok := s.subs[queue]
	delete(s.subs, queue)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	sub.Stop()
	s.logger.Info("stopped listening on queue", "queue", queue)
	return nil
}

// Queues возвращает очереди, которые слушает узел.
func (s *Scheduler) Queues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	queues := make([]string, 0, len(s.subs))
	for q := range s.subs {
		queues = append(queues, q)
	}
	slices.Sort(queues)
	return queues
}

// State возвращает состояние задачи на этом узле.
// false — узел задачу не держит.
func (s *Scheduler) State(id int64) (domain.JobState, bool) {
	if _, ok := s.executing.Load(id); ok {
		return domain.JobStateExecuting, true
	}
	if _, ok := s.waiting.load(id); ok {
		return domain.JobStateArmed, true
	}
	return "", false
}

// Waiting возвращает ID задач, взведённых на этом узле.
func (s *Scheduler) Waiting() []int64 {
	return s.waiting.ids()
}

// Close останавливает подписки и таймеры и ждёт выполняющиеся задачи.
//
// Анонсы взведённых задач не подтверждаются: брокер выдаст их
// другим узлам.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]bus.Subscription)
	bsub := s.broadcast
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	if bsub != nil {
		bsub.Stop()
	}

	entries := s.waiting.drain()
	for _, e := range entries {
		e.stop()
	}

	s.cancel()
	s.running.Wait()

	s.logger.Info("scheduler closed", "released_jobs", len(entries))
}

func (s *Scheduler) ack(e *waitingEntry) {
	if err := e.delivery.Ack(); err != nil {
		telemetry.WithJobID(s.logger, e.jobID).Warn("failed to ack announcement", "error", err)
	}
}

// beginRun учитывает выполнение для Close. false — узел уже закрыт.
func (s *Scheduler) beginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.running.Add(1)
	return true
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
