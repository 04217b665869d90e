package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Quorum/internal/domain"
)

// JobRepo — репозиторий отложенных задач (таблица jobs).
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Save вставляет задачу. ID и CreatedAt назначает БД.
func (r *JobRepo) Save(ctx context.Context, job *domain.ScheduledJob) error {
	queue := job.Queue
	if queue == "" {
		queue = domain.DefaultQueue
	}

	query := `
		INSERT INTO jobs (backing_type, payload, queue, run_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		job.BackingType,
		nullBytes(job.Payload),
		queue,
		job.RunAt,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	job.Queue = queue
	return nil
}

// GetByID возвращает задачу по ID.
func (r *JobRepo) GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error) {
	query := `
		SELECT id, backing_type, payload, queue, run_at, created_at
		FROM jobs
		WHERE id = $1
	`
	var job domain.ScheduledJob
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.BackingType,
		&job.Payload,
		&job.Queue,
		&job.RunAt,
		&job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, domain.ErrJobNotFound)
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return &job, nil
}

// Delete удаляет задачу. Отсутствие строки не ошибка:
// удалить задачу могут и выполнивший её узел, и отменивший.
func (r *JobRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// UpdateRunAt меняет время запуска задачи.
func (r *JobRepo) UpdateRunAt(ctx context.Context, id int64, runAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE jobs SET run_at = $2 WHERE id = $1`, id, runAt)
	if err != nil {
		return fmt.Errorf("update job run_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w", ErrNotFound, domain.ErrJobNotFound)
	}
	return nil
}

// CountByQueue возвращает количество ожидающих задач по очередям.
func (r *JobRepo) CountByQueue(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT queue, COUNT(*) FROM jobs GROUP BY queue`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			queue string
			n     int64
		)
		if err := rows.Scan(&queue, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[queue] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	return counts, nil
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
