package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/jobs"
)

// Scheduler — операции планировщика (jobs.Scheduler).
type Scheduler interface {
	Schedule(ctx context.Context, job jobs.Job, runAt time.Time, opts ...jobs.ScheduleOption) (int64, error)
	Cancel(ctx context.Context, id int64, broadcast bool) (bool, error)
	Reschedule(ctx context.Context, id int64, newTime time.Time, broadcast bool) error
	State(id int64) (domain.JobState, bool)
	Waiting() []int64
	Queues() []string
}

// JobReader читает строки задач (jobs.Store).
type JobReader interface {
	GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error)
}

// KindRegistry собирает задачи из JSON (jobs.Registry).
type KindRegistry interface {
	Build(kind string, data json.RawMessage) (jobs.Job, error)
	Kinds() []string
}

// Cluster — состояние выборов (election.Elector).
type Cluster interface {
	Identity() string
	Leader() string
	IsLeader() bool
}

// RecurringSource — периодические задачи (recurring.Runner).
type RecurringSource interface {
	Definitions() []domain.RecurringJob
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	scheduler Scheduler
	jobs      JobReader
	kinds     KindRegistry
	cluster   Cluster
	recurring RecurringSource
	logger    *slog.Logger
	now       func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	Scheduler Scheduler
	Jobs      JobReader
	Kinds     KindRegistry
	Cluster   Cluster
	Recurring RecurringSource // опционально
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		scheduler: cfg.Scheduler,
		jobs:      cfg.Jobs,
		kinds:     cfg.Kinds,
		cluster:   cfg.Cluster,
		recurring: cfg.Recurring,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}
