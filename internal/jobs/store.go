package jobs

import (
	"context"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
)

// Store — хранилище строк задач.
//
// Реализации: repo.JobRepo (PostgreSQL), fakestore.JobStore (память).
type Store interface {
	// Save вставляет задачу и заполняет ID и CreatedAt.
	Save(ctx context.Context, job *domain.ScheduledJob) error

	// GetByID возвращает задачу или ошибку, совместимую с ErrJobNotFound.
	GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error)

	// Delete удаляет задачу. Отсутствие строки не ошибка.
	Delete(ctx context.Context, id int64) error

	// UpdateRunAt меняет время запуска.
	UpdateRunAt(ctx context.Context, id int64, runAt time.Time) error
}
