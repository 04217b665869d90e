package domain

import (
	"encoding/json"
	"time"
)

// RecurringJob — периодическая задача, которую ставит в очередь только лидер.
//
// RecurringJob позволяет запускать задачу:
// - По cron-выражению: "0 9 * * *" (каждый день в 9:00)
// - По интервалу: каждые N секунд
//
// Определения задаются в конфигурации и одинаковы на всех узлах;
// состояние (NextDueAt) живёт только в памяти лидера.
type RecurringJob struct {
	// Name — уникальное имя определения.
	Name string `json:"name" yaml:"name"`

	// CronExpr — cron-выражение "минуты часы дни месяцы дни_недели".
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию: "UTC".
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// Kind — kind задачи, которая будет поставлена.
	Kind string `json:"kind" yaml:"kind"`

	// Payload — данные задачи в JSON.
	Payload json.RawMessage `json:"payload,omitempty" yaml:"-"`

	// Queue — очередь задачи. По умолчанию DefaultQueue.
	Queue string `json:"queue,omitempty" yaml:"queue,omitempty"`

	// NextDueAt — время следующего запуска (только в памяти лидера).
	NextDueAt *time.Time `json:"next_due_at,omitempty" yaml:"-"`

	// LastRunAt — время последней постановки.
	LastRunAt *time.Time `json:"last_run_at,omitempty" yaml:"-"`

	// LastJobID — ID последней поставленной задачи.
	LastJobID int64 `json:"last_job_id,omitempty" yaml:"-"`
}

// IsCron возвращает true, если определение использует cron-выражение.
func (r *RecurringJob) IsCron() bool {
	return r.CronExpr != ""
}

// IsInterval возвращает true, если определение использует интервал.
func (r *RecurringJob) IsInterval() bool {
	return r.CronExpr == "" && r.IntervalSec > 0
}

// IsDue проверяет, пора ли ставить задачу.
func (r *RecurringJob) IsDue(now time.Time) bool {
	if r.NextDueAt == nil {
		return false
	}
	return !now.Before(*r.NextDueAt)
}

// RecordRun записывает информацию о постановке.
func (r *RecurringJob) RecordRun(jobID int64, at, nextDue time.Time) {
	r.LastRunAt = &at
	r.LastJobID = jobID
	r.NextDueAt = &nextDue
}

// QueueOrDefault возвращает очередь с учётом значения по умолчанию.
func (r *RecurringJob) QueueOrDefault() string {
	if r.Queue == "" {
		return DefaultQueue
	}
	return r.Queue
}
