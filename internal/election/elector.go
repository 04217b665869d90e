package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/telemetry"
)

// releaseTimeout — сколько ждать освобождения lease при остановке.
const releaseTimeout = 5 * time.Second

// Option настраивает Elector.
type Option func(*Elector)

// WithNow подменяет источник времени (для тестов).
func WithNow(now func() time.Time) Option {
	return func(e *Elector) { e.now = now }
}

// WithJitter подменяет генератор множителя jitter.
// fn получает границы диапазона и возвращает множитель.
func WithJitter(fn func(lo, hi float64) float64) Option {
	return func(e *Elector) { e.jitter = fn }
}

// Elector — участник выборов лидера.
type Elector struct {
	cfg    Config
	store  LeaseStore
	logger *slog.Logger

	now    func() time.Time
	jitter func(lo, hi float64) float64

	notifier *notifier
	running  atomic.Bool
	nudge    chan struct{}

	mu         sync.RWMutex
	isLeader   bool
	leader     string
	lastRenew  time.Time
	leaderCtx  context.Context
	leaderStop context.CancelFunc
}

// New создаёт Elector.
func New(cfg Config, store LeaseStore, opts ...Option) (*Elector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: lease store is required", ErrInvalidConfig)
	}

	logger := cfg.Logger.With(
		"component", "election",
		"lease", cfg.Namespace+"/"+cfg.ResourceName,
		"node_id", cfg.Identity,
	)

	e := &Elector{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		now:      time.Now,
		jitter:   randomJitter,
		notifier: newNotifier(logger),
		nudge:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

func randomJitter(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Float64()*(hi-lo)
}

// OnStartLeading регистрирует callback начала лидерства.
// ctx callback'а отменяется, когда узел теряет лидерство.
// Callback может работать до отмены ctx: OnNewLeader его не ждёт,
// а OnStoppedLeading вызывается только после его возврата.
func (e *Elector) OnStartLeading(fn func(ctx context.Context)) {
	e.notifier.cbMu.Lock()
	defer e.notifier.cbMu.Unlock()
	e.notifier.onStart = append(e.notifier.onStart, fn)
}

// OnStoppedLeading регистрирует callback потери лидерства.
func (e *Elector) OnStoppedLeading(fn func(ctx context.Context)) {
	e.notifier.cbMu.Lock()
	defer e.notifier.cbMu.Unlock()
	e.notifier.onStop = append(e.notifier.onStop, fn)
}

// OnNewLeader регистрирует callback смены известного лидера.
func (e *Elector) OnNewLeader(fn func(ctx context.Context, identity string)) {
	e.notifier.cbMu.Lock()
	defer e.notifier.cbMu.Unlock()
	e.notifier.onNewLeader = append(e.notifier.onNewLeader, fn)
}

// Identity возвращает идентификатор узла.
func (e *Elector) Identity() string {
	return e.cfg.Identity
}

// IsLeader сообщает, считает ли узел себя лидером.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// Leader возвращает идентификатор последнего известного лидера.
func (e *Elector) Leader() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leader
}

// Nudge будит follower'а, ожидающего истечения чужого lease.
// Используется, когда лидер объявил об освобождении lease.
func (e *Elector) Nudge() {
	select {
	case e.nudge <- struct{}{}:
	default:
	}
}

// Run запускает цикл выборов. Блокирует до отмены ctx.
// Ошибки хранилища не завершают Run.
func (e *Elector) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.notifier.run()
	}()

	e.logger.Info("leader election started",
		"lease_duration", e.cfg.LeaseDuration,
		"renew_deadline", e.cfg.RenewDeadline,
		"retry_period", e.cfg.RetryPeriod,
	)

	for {
		var wait time.Duration
		if e.IsLeader() {
			wait = e.renew(ctx)
		} else {
			wait = e.acquire(ctx)
		}

		if ctx.Err() != nil {
			break
		}

		if !e.sleep(ctx, wait) {
			break
		}
	}

	e.shutdown(context.WithoutCancel(ctx))
	e.notifier.close()
	<-done

	e.logger.Info("leader election stopped")
	return ctx.Err()
}

// acquire — итерация follower'а. Возвращает паузу до следующей итерации.
func (e *Elector) acquire(ctx context.Context) time.Duration {
	lease, err := e.store.Get(ctx, e.cfg.Namespace, e.cfg.ResourceName)
	if errors.Is(err, ErrLeaseNotFound) {
		return e.create(ctx)
	}
	if err != nil {
		e.storeError(ctx, "get", err)
		return e.retryWait()
	}

	now := e.now()

	if lease.IsValid(now) {
		if lease.HolderIdentity == e.cfg.Identity {
			// Lease уже наш (например, после перезапуска с тем же identity)
			e.becomeLeader(ctx, lease)
			return e.retryWait()
		}

		e.observeLeader(ctx, lease.HolderIdentity)

		// Ждём истечения, а не опрашиваем хранилище каждый RetryPeriod
		wait := lease.ExpiresAt().Sub(now)
		wait += time.Duration(float64(e.cfg.RetryPeriod) * (e.jitter(e.cfg.JitterMin, e.cfg.JitterMax) - 1))
		return max(wait, 0)
	}

	return e.takeover(ctx, lease, now)
}

// create создаёт отсутствующий lease.
func (e *Elector) create(ctx context.Context) time.Duration {
	now := e.now()
	lease := &domain.Lease{
		Name:           e.cfg.ResourceName,
		Namespace:      e.cfg.Namespace,
		HolderIdentity: e.cfg.Identity,
		AcquireTime:    now,
		RenewTime:      now,
		LeaseDuration:  e.cfg.LeaseDuration,
	}

	created, err := e.store.Create(ctx, lease)
	if errors.Is(err, ErrLeaseConflict) {
		// Другой узел создал lease первым, увидим его при следующем чтении
		e.logger.Debug("lost lease creation race")
		return e.retryWait()
	}
	if err != nil {
		e.storeError(ctx, "create", err)
		return e.retryWait()
	}

	e.logger.Info("created lease and acquired leadership")
	e.becomeLeader(ctx, created)
	return e.retryWait()
}

// takeover перехватывает невалидный lease.
func (e *Elector) takeover(ctx context.Context, lease *domain.Lease, now time.Time) time.Duration {
	updated := lease.Clone()
	if updated.HolderIdentity != e.cfg.Identity {
		updated.Transitions++
	}
	updated.HolderIdentity = e.cfg.Identity
	updated.AcquireTime = now
	updated.RenewTime = now
	updated.LeaseDuration = e.cfg.LeaseDuration

	stored, err := e.store.Replace(ctx, updated)
	if errors.Is(err, ErrLeaseConflict) {
		e.logger.Debug("lost lease takeover race", "previous_holder", lease.HolderIdentity)
		return e.retryWait()
	}
	if err != nil {
		e.storeError(ctx, "replace", err)
		return e.retryWait()
	}

	e.logger.Info("took over lease",
		"previous_holder", lease.HolderIdentity,
		"transitions", stored.Transitions,
	)
	e.becomeLeader(ctx, stored)
	return e.retryWait()
}

// renew — итерация лидера.
func (e *Elector) renew(ctx context.Context) time.Duration {
	if e.stepDownIfStale() {
		return e.retryWait()
	}

	lease, ok := e.readOwnLease(ctx)
	if !ok {
		e.stepDownIfStale()
		return e.retryWait()
	}

	e.mu.RLock()
	renewAt := e.lastRenew.Add(e.cfg.RenewDeadline)
	e.mu.RUnlock()

	if wait := renewAt.Sub(e.now()); wait > 0 {
		if !e.sleepUntilRenew(ctx, wait) {
			return 0
		}
		// Перечитываем, чтобы не перезаписать более свежую версию
		lease, ok = e.readOwnLease(ctx)
		if !ok {
			e.stepDownIfStale()
			return e.retryWait()
		}
	}

	now := e.now()
	updated := lease.Clone()
	updated.RenewTime = now
	updated.LeaseDuration = e.cfg.LeaseDuration

	stored, err := e.store.Replace(ctx, updated)
	if err != nil {
		if !errors.Is(err, ErrLeaseConflict) {
			e.storeError(ctx, "replace", err)
		} else {
			e.logger.Warn("lease changed during renewal")
		}
		e.stepDownIfStale()
		return e.retryWait()
	}

	e.mu.Lock()
	e.lastRenew = stored.RenewTime
	e.mu.Unlock()

	e.logger.Debug("renewed lease", "renew_time", stored.RenewTime)
	return e.retryWait()
}

// readOwnLease читает lease и проверяет, что он всё ещё наш.
// При потере владения переводит узел в follower.
func (e *Elector) readOwnLease(ctx context.Context) (*domain.Lease, bool) {
	lease, err := e.store.Get(ctx, e.cfg.Namespace, e.cfg.ResourceName)
	if err != nil {
		if ctx.Err() == nil {
			e.storeError(ctx, "get", err)
		}
		return nil, false
	}

	if lease.HolderIdentity != e.cfg.Identity {
		e.logger.Warn("leadership lost",
			"error", ErrNotOwner,
			"holder", lease.HolderIdentity,
		)
		e.becomeFollower(ctx, lease.HolderIdentity)
		return nil, false
	}

	return lease, true
}

// sleepUntilRenew ждёт момента продления, но не дольше момента,
// когда лидерство пора снять.
func (e *Elector) sleepUntilRenew(ctx context.Context, wait time.Duration) bool {
	e.mu.RLock()
	stepDownAt := e.lastRenew.Add(e.cfg.LeaseDuration - e.cfg.ClockSkewTolerance)
	e.mu.RUnlock()

	if limit := stepDownAt.Sub(e.now()); limit < wait {
		wait = max(limit, 0)
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// stepDownIfStale снимает лидерство, если lease не продлевался
// слишком долго. Возвращает true, если узел больше не лидер.
func (e *Elector) stepDownIfStale() bool {
	e.mu.RLock()
	leader := e.isLeader
	lastRenew := e.lastRenew
	e.mu.RUnlock()

	if !leader {
		return true
	}
	if e.now().Before(lastRenew.Add(e.cfg.LeaseDuration - e.cfg.ClockSkewTolerance)) {
		return false
	}

	e.logger.Warn("failed to renew lease in time, stepping down", "last_renew", lastRenew)
	e.becomeFollower(context.Background(), "")
	return true
}

// becomeLeader переводит узел в лидеры. Вызывается только после того,
// как holder записан в хранилище.
func (e *Elector) becomeLeader(ctx context.Context, lease *domain.Lease) {
	e.mu.Lock()
	e.lastRenew = lease.RenewTime
	if e.isLeader {
		e.mu.Unlock()
		return
	}
	e.isLeader = true
	changed := e.leader != e.cfg.Identity
	e.leader = e.cfg.Identity
	e.leaderCtx, e.leaderStop = context.WithCancel(context.WithoutCancel(ctx))
	leaderCtx := e.leaderCtx
	e.mu.Unlock()

	e.logger.Info("became leader", "transitions", lease.Transitions)
	telemetry.ElectionIsLeader.Set(1)
	telemetry.ElectionTransitions.WithLabelValues(eventStartedLeading.String()).Inc()

	e.notifier.push(event{kind: eventStartedLeading, ctx: leaderCtx})
	if changed {
		e.notifier.push(event{kind: eventNewLeader, ctx: context.WithoutCancel(ctx), identity: e.cfg.Identity})
	}
}

// becomeFollower переводит узел в follower'ы. holder — новый известный
// лидер, пустая строка если неизвестен.
func (e *Elector) becomeFollower(ctx context.Context, holder string) {
	e.mu.Lock()
	wasLeader := e.isLeader
	e.isLeader = false
	stop := e.leaderStop
	e.leaderCtx, e.leaderStop = nil, nil
	if wasLeader && holder == "" {
		e.leader = ""
	}
	e.mu.Unlock()

	if wasLeader {
		if stop != nil {
			stop()
		}
		e.logger.Info("stopped leading", "new_holder", holder)
		telemetry.ElectionIsLeader.Set(0)
		telemetry.ElectionTransitions.WithLabelValues(eventStoppedLeading.String()).Inc()
		e.notifier.push(event{kind: eventStoppedLeading, ctx: context.WithoutCancel(ctx)})
	}

	if holder != "" {
		e.observeLeader(ctx, holder)
	}
}

// observeLeader фиксирует лидера, которого видит follower.
func (e *Elector) observeLeader(ctx context.Context, holder string) {
	e.mu.Lock()
	if e.leader == holder {
		e.mu.Unlock()
		return
	}
	e.leader = holder
	e.mu.Unlock()

	e.logger.Info("new leader observed", "leader", holder)
	telemetry.ElectionTransitions.WithLabelValues(eventNewLeader.String()).Inc()
	e.notifier.push(event{kind: eventNewLeader, ctx: context.WithoutCancel(ctx), identity: holder})
}

// shutdown освобождает lease и завершает лидерство при остановке.
func (e *Elector) shutdown(ctx context.Context) {
	if !e.IsLeader() {
		return
	}

	if e.cfg.ReleaseOnCancel {
		ctx, cancel := context.WithTimeout(ctx, releaseTimeout)
		defer cancel()
		e.release(ctx)
	}

	e.becomeFollower(ctx, "")
}

// release очищает HolderIdentity, чтобы follower'ы не ждали истечения.
func (e *Elector) release(ctx context.Context) {
	lease, err := e.store.Get(ctx, e.cfg.Namespace, e.cfg.ResourceName)
	if err != nil {
		e.storeError(ctx, "get", err)
		return
	}
	if lease.HolderIdentity != e.cfg.Identity {
		return
	}

	released := lease.Clone()
	released.HolderIdentity = ""
	released.RenewTime = e.now()

	if _, err := e.store.Replace(ctx, released); err != nil {
		e.storeError(ctx, "replace", err)
		return
	}

	e.logger.Info("released lease")
}

func (e *Elector) storeError(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	telemetry.ElectionStoreErrors.WithLabelValues(op).Inc()
	e.logger.Error("lease store operation failed", "op", op, "error", err)
}

// retryWait возвращает RetryPeriod, умноженный на jitter.
func (e *Elector) retryWait() time.Duration {
	return time.Duration(float64(e.cfg.RetryPeriod) * e.jitter(e.cfg.JitterMin, e.cfg.JitterMax))
}

// sleep ждёт d. Follower может быть разбужен раньше через Nudge.
// Возвращает false, если ctx отменён.
func (e *Elector) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-e.nudge:
		return true
	}
}
