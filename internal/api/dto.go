package api

import (
	"encoding/json"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/jobs"
)

// Job DTOs

// ScheduleJobRequest — запрос на постановку задачи.
// Задаётся либо RunAt, либо DelaySec; без них задача выполняется сразу.
type ScheduleJobRequest struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	RunAt    *time.Time      `json:"run_at,omitempty"`
	DelaySec *float64        `json:"delay_sec,omitempty"`
	Queue    string          `json:"queue,omitempty"`
}

// RescheduleJobRequest — запрос на перенос задачи.
type RescheduleJobRequest struct {
	RunAt    *time.Time `json:"run_at,omitempty"`
	DelaySec *float64   `json:"delay_sec,omitempty"`
}

// ScheduleJobResponse — ответ на постановку задачи.
type ScheduleJobResponse struct {
	ID    int64     `json:"id"`
	Kind  string    `json:"kind"`
	Queue string    `json:"queue"`
	RunAt time.Time `json:"run_at"`
}

// CancelJobResponse — ответ на отмену задачи.
type CancelJobResponse struct {
	ID       int64 `json:"id"`
	Canceled bool  `json:"canceled"`
}

// RescheduleJobResponse — ответ на перенос задачи.
type RescheduleJobResponse struct {
	ID    int64     `json:"id"`
	RunAt time.Time `json:"run_at"`
}

// JobResponse — ответ с задачей.
type JobResponse struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RunAt      time.Time       `json:"run_at"`
	CreatedAt  time.Time       `json:"created_at"`
	LocalState string          `json:"local_state,omitempty"`
}

// JobFromDomain конвертирует domain.ScheduledJob в JobResponse.
// Payload отдаётся без служебного конверта.
func JobFromDomain(j *domain.ScheduledJob) JobResponse {
	payload, err := jobs.PayloadData(j.Payload)
	if err != nil {
		payload = nil
	}
	return JobResponse{
		ID:        j.ID,
		Kind:      j.BackingType,
		Queue:     j.Queue,
		Payload:   payload,
		RunAt:     j.RunAt,
		CreatedAt: j.CreatedAt,
	}
}

// Cluster DTOs

// ClusterResponse — состояние кластера с точки зрения узла.
type ClusterResponse struct {
	NodeID      string              `json:"node_id"`
	Leader      string              `json:"leader"`
	IsLeader    bool                `json:"is_leader"`
	WaitingJobs []int64             `json:"waiting_jobs"`
	Queues      []string            `json:"queues"`
	Kinds       []string            `json:"kinds"`
	Recurring   []RecurringResponse `json:"recurring,omitempty"`
}

// RecurringResponse — периодическая задача.
type RecurringResponse struct {
	Name        string     `json:"name"`
	CronExpr    string     `json:"cron,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	Kind        string     `json:"kind"`
	Queue       string     `json:"queue"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastJobID   int64      `json:"last_job_id,omitempty"`
}

// RecurringFromDomain конвертирует domain.RecurringJob в RecurringResponse.
func RecurringFromDomain(r *domain.RecurringJob) RecurringResponse {
	return RecurringResponse{
		Name:        r.Name,
		CronExpr:    r.CronExpr,
		IntervalSec: r.IntervalSec,
		Timezone:    r.Timezone,
		Kind:        r.Kind,
		Queue:       r.QueueOrDefault(),
		NextDueAt:   r.NextDueAt,
		LastRunAt:   r.LastRunAt,
		LastJobID:   r.LastJobID,
	}
}
