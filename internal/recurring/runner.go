package recurring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/jobs"
)

// DefaultTickInterval — период тика Runner.
const DefaultTickInterval = time.Second

// Scheduler ставит задачи (jobs.Scheduler).
type Scheduler interface {
	Schedule(ctx context.Context, job jobs.Job, runAt time.Time, opts ...jobs.ScheduleOption) (int64, error)
}

// Builder собирает задачу по kind и JSON-данным (jobs.Registry).
type Builder interface {
	Build(kind string, data json.RawMessage) (jobs.Job, error)
}

// LeaderEvents — источник событий лидерства (election.Elector).
type LeaderEvents interface {
	OnStartLeading(fn func(ctx context.Context))
	OnStoppedLeading(fn func(ctx context.Context))
}

// Config — конфигурация Runner.
type Config struct {
	Definitions []domain.RecurringJob

	// TickInterval — период проверки due-определений. По умолчанию 1s.
	TickInterval time.Duration

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Runner ставит периодические задачи, пока узел лидер.
type Runner struct {
	scheduler Scheduler
	builder   Builder
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	defs    []domain.RecurringJob
	cancel  context.CancelFunc
	done    chan struct{}
	leading bool
}

// New создаёт Runner. Все определения проверяются сразу.
func New(cfg Config, scheduler Scheduler, builder Builder) (*Runner, error) {
	seen := make(map[string]struct{}, len(cfg.Definitions))
	defs := make([]domain.RecurringJob, len(cfg.Definitions))
	for i := range cfg.Definitions {
		def := cfg.Definitions[i]
		if err := Validate(&def); err != nil {
			return nil, err
		}
		if _, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidDefinition, def.Name)
		}
		seen[def.Name] = struct{}{}
		def.NextDueAt, def.LastRunAt, def.LastJobID = nil, nil, 0
		defs[i] = def
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Runner{
		scheduler: scheduler,
		builder:   builder,
		logger:    cfg.Logger.With("component", "recurring"),
		interval:  cfg.TickInterval,
		now:       cfg.Now,
		defs:      defs,
	}, nil
}

// Attach подписывает Runner на события лидерства.
func (r *Runner) Attach(events LeaderEvents) {
	events.OnStartLeading(r.Lead)
	events.OnStoppedLeading(func(context.Context) { r.Stop() })
}

// Lead пересчитывает next_due от текущего времени и запускает тики до
// отмены ctx или вызова Stop. Не блокирует.
func (r *Runner) Lead(ctx context.Context) {
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.defs) == 0 {
		return
	}

	now := r.now()
	for i := range r.defs {
		def := &r.defs[i]
		next, err := CalculateNextDue(def, now)
		if err != nil {
			r.logger.Error("failed to calculate next due", "name", def.Name, "error", err)
			def.NextDueAt = nil
			continue
		}
		def.NextDueAt = &next
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done, r.leading = cancel, done, true

	go r.loop(ctx, done)

	r.logger.Info("recurring runner started", "definitions", len(r.defs))
}

// Stop останавливает тики и ждёт завершения текущего.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done, r.leading = nil, nil, false
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("recurring runner stopped")
}

// Leading сообщает, тикает ли Runner.
func (r *Runner) Leading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leading
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick ставит задачи для всех due-определений.
// Ошибка одного определения не мешает остальным.
func (r *Runner) Tick(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var scheduled int
	for i := range r.defs {
		def := &r.defs[i]
		if !def.IsDue(now) {
			continue
		}
		if ctx.Err() != nil {
			return scheduled
		}

		ok := r.process(ctx, def, now)
		if ok {
			scheduled++
		}
	}

	if scheduled > 0 {
		r.logger.Debug("recurring tick completed", "scheduled", scheduled)
	}
	return scheduled
}

// process ставит одну задачу и сдвигает next_due.
func (r *Runner) process(ctx context.Context, def *domain.RecurringJob, now time.Time) bool {
	next, err := CalculateNextDue(def, now)
	if err != nil {
		r.logger.Error("failed to calculate next due, disabling definition", "name", def.Name, "error", err)
		def.NextDueAt = nil
		return false
	}

	job, err := r.builder.Build(def.Kind, def.Payload)
	if err != nil {
		// Определение не собирается и не соберётся: ждём следующего окна.
		r.logger.Error("failed to build recurring job", "name", def.Name, "kind", def.Kind, "error", err)
		def.NextDueAt = &next
		return false
	}

	id, err := r.scheduler.Schedule(ctx, job, now, jobs.WithQueue(def.QueueOrDefault()))
	if err != nil {
		// next_due не трогаем, повтор на следующем тике.
		r.logger.Warn("failed to schedule recurring job", "name", def.Name, "error", err)
		return false
	}

	def.RecordRun(id, now, next)
	r.logger.Info("recurring job scheduled",
		"name", def.Name,
		"job_id", id,
		"next_due_at", next,
	)
	return true
}

// Definitions возвращает копию определений с текущим состоянием.
func (r *Runner) Definitions() []domain.RecurringJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.RecurringJob, len(r.defs))
	copy(out, r.defs)
	return out
}
