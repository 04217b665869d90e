package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shaiso/Quorum/internal/bus"
	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/telemetry"
)

// claim взводит таймер для полученного анонса.
func (s *Scheduler) claim(ctx context.Context, queue string, a bus.Announcement, d bus.Delivery) {
	logger := telemetry.WithJobID(s.logger, a.JobID)

	if s.isClosed() {
		// Не подтверждаем: анонс достанется другому узлу
		return
	}

	runAt := a.RunAt
	row, err := s.store.GetByID(ctx, a.JobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		logger.Debug("announcement for missing job, dropping")
		if err := d.Ack(); err != nil {
			logger.Warn("failed to ack announcement", "error", err)
		}
		return
	case err != nil:
		// Время возьмём из анонса, строку перечитаем при срабатывании
		logger.Warn("failed to load announced job, arming from announcement", "error", err)
	default:
		runAt = row.RunAt
	}

	e := newWaitingEntry(a.JobID, queue, runAt, d)
	if prev, loaded := s.waiting.swap(a.JobID, e); loaded {
		// Повторная доставка того же анонса: старая запись уступает новой
		prev.stop()
		s.ack(prev)
		logger.Info("replaced duplicate waiting entry")
	}
	e.arm(time.Until(runAt), func() { s.fire(e) })

	logger.Debug("job armed", "queue", queue, "run_at", runAt, "redelivered", e.redelivered)

	s.emitClaimed(ctx, ClaimedEvent{
		JobID:       a.JobID,
		Queue:       queue,
		RunAt:       runAt,
		Redelivered: e.redelivered,
	})
}

func (s *Scheduler) emitClaimed(ctx context.Context, ev ClaimedEvent) {
	s.mu.Lock()
	fns := append([]func(context.Context, ClaimedEvent){}, s.onClaimed...)
	s.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("claimed callback panicked", "job_id", ev.JobID, "panic", r)
				}
			}()
			fn(ctx, ev)
		}()
	}
}

// fire — callback таймера.
func (s *Scheduler) fire(e *waitingEntry) {
	// Точка фиксации: дальше задача принадлежит этому вызову
	if !s.waiting.commit(e.jobID, e) {
		return
	}

	if !s.beginRun() {
		// Узел закрывается: анонс без ack достанется другому узлу
		return
	}
	defer s.running.Done()

	ctx := context.WithoutCancel(s.ctx)
	logger := telemetry.WithJobID(s.logger, e.jobID)

	row, err := s.store.GetByID(ctx, e.jobID)
	if errors.Is(err, ErrJobNotFound) {
		logger.Info("job removed before execution, dropping")
		s.ack(e)
		telemetry.JobsExecuted.WithLabelValues(string(domain.ExecutionDropped)).Inc()
		return
	}
	if err != nil {
		logger.Error("failed to load job on fire, retrying", "error", err, "retry_in", s.cfg.StoreRetry)
		s.rearm(e.withRunAt(time.Now().Add(s.cfg.StoreRetry)))
		return
	}

	now := time.Now()
	if row.RunAt.After(now.Add(s.cfg.ClockTolerance)) {
		// run_at перенесли на более позднее время
		logger.Debug("job run_at moved forward, re-arming", "run_at", row.RunAt)
		s.rearm(e.withRunAt(row.RunAt))
		return
	}

	s.execute(ctx, e, row, now)
}

// rearm снова взводит задачу, уже снятую с карты.
func (s *Scheduler) rearm(e *waitingEntry) {
	if s.isClosed() {
		return
	}
	if !s.waiting.putIfAbsent(e.jobID, e) {
		// Пока запись была снята, пришёл повторный анонс той же задачи
		s.ack(e)
		return
	}
	e.arm(time.Until(e.runAt), func() { s.fire(e) })
}

// execute выполняет задачу, затем подтверждает анонс и удаляет строку.
// Подтверждение и удаление выполняются при любом исходе.
func (s *Scheduler) execute(ctx context.Context, e *waitingEntry, row *domain.ScheduledJob, now time.Time) {
	logger := telemetry.WithJobID(s.logger, row.ID).With("kind", row.BackingType, "queue", row.Queue)

	lateness := row.Lateness(now)
	telemetry.JobsLateness.Observe(lateness.Seconds())
	if lateness > s.cfg.ClockTolerance {
		logger.Warn("executing overdue job", "run_at", row.RunAt, "lateness", lateness)
	}

	s.executing.Store(row.ID, struct{}{})
	defer s.executing.Delete(row.ID)

	result := domain.ExecutionSucceeded
	defer func() {
		s.ack(e)
		if err := s.store.Delete(ctx, row.ID); err != nil {
			logger.Error("failed to delete executed job", "error", err)
		}
		telemetry.JobsExecuted.WithLabelValues(string(result)).Inc()
	}()

	job, kind, err := s.kinds.decode(row.BackingType, row.Payload)
	if err != nil {
		result = domain.ExecutionDropped
		logger.Error("cannot decode job, dropping", "error", err)
		return
	}

	execCtx := WithExecution(ctx, Execution{
		JobID:       row.ID,
		Queue:       row.Queue,
		RunAt:       row.RunAt,
		Redelivered: e.redelivered,
	})
	execCtx = telemetry.WithLogger(execCtx, logger)

	started := time.Now()
	if err := invoke(execCtx, kind, job); err != nil {
		result = domain.ExecutionFailed
		logger.Error("job failed", "error", err, "duration", time.Since(started))
		return
	}

	logger.Info("job executed", "duration", time.Since(started))
}

// invoke вызывает обработчик, превращая панику в ошибку со стеком.
func invoke(ctx context.Context, kind *kindEntry, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v\n%s", kind.kind, r, debug.Stack())
		}
	}()
	return kind.handle(ctx, job)
}
