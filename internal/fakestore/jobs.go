package fakestore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
)

// JobStore — хранилище строк задач в памяти.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[int64]*domain.ScheduledJob
	nextID int64

	failSave   error
	failDelete error
}

// NewJobStore создаёт пустое хранилище.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[int64]*domain.ScheduledJob)}
}

// FailSave включает отказ Save.
func (s *JobStore) FailSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

// FailDelete включает отказ Delete.
func (s *JobStore) FailDelete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete = err
}

// Save сохраняет задачу, назначая ID и CreatedAt.
func (s *JobStore) Save(ctx context.Context, job *domain.ScheduledJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave != nil {
		return s.failSave
	}

	s.nextID++
	job.ID = s.nextID
	job.CreatedAt = time.Now()

	stored := *job
	stored.Payload = append([]byte(nil), job.Payload...)
	s.jobs[job.ID] = &stored

	return nil
}

// GetByID возвращает копию задачи.
func (s *JobStore) GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	c := *job
	return &c, nil
}

// Delete удаляет задачу. Отсутствие строки не ошибка.
func (s *JobStore) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failDelete != nil {
		return s.failDelete
	}

	delete(s.jobs, id)
	return nil
}

// UpdateRunAt меняет время запуска.
func (s *JobStore) UpdateRunAt(ctx context.Context, id int64, runAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.RunAt = runAt
	return nil
}

// IDs возвращает отсортированные ID хранимых задач.
func (s *JobStore) IDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len возвращает количество задач.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
