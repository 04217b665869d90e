package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// JobResponse — задача из API.
type JobResponse struct {
	ID         int64          `json:"id"`
	Kind       string         `json:"kind"`
	Queue      string         `json:"queue"`
	Payload    map[string]any `json:"payload,omitempty"`
	RunAt      string         `json:"run_at"`
	CreatedAt  string         `json:"created_at,omitempty"`
	LocalState string         `json:"local_state,omitempty"`
}

// CancelJobResponse — результат отмены.
type CancelJobResponse struct {
	ID       int64 `json:"id"`
	Canceled bool  `json:"canceled"`
}

// RescheduleJobResponse — результат переноса.
type RescheduleJobResponse struct {
	ID    int64  `json:"id"`
	RunAt string `json:"run_at"`
}

// ClusterResponse — состояние кластера из API.
type ClusterResponse struct {
	NodeID      string              `json:"node_id"`
	Leader      string              `json:"leader"`
	IsLeader    bool                `json:"is_leader"`
	WaitingJobs []int64             `json:"waiting_jobs"`
	Queues      []string            `json:"queues"`
	Kinds       []string            `json:"kinds"`
	Recurring   []RecurringResponse `json:"recurring,omitempty"`
}

// RecurringResponse — периодическая задача из API.
type RecurringResponse struct {
	Name        string `json:"name"`
	CronExpr    string `json:"cron,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Kind        string `json:"kind"`
	Queue       string `json:"queue"`
	NextDueAt   string `json:"next_due_at,omitempty"`
	LastRunAt   string `json:"last_run_at,omitempty"`
	LastJobID   int64  `json:"last_job_id,omitempty"`
}

// --- Request types ---

// ScheduleJobRequest — постановка задачи.
type ScheduleJobRequest struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	RunAt    *time.Time      `json:"run_at,omitempty"`
	DelaySec *float64        `json:"delay_sec,omitempty"`
	Queue    string          `json:"queue,omitempty"`
}

// RescheduleJobRequest — перенос задачи.
type RescheduleJobRequest struct {
	RunAt    *time.Time `json:"run_at,omitempty"`
	DelaySec *float64   `json:"delay_sec,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для admin API узла Quorum.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Jobs ---

// ScheduleJob ставит задачу.
func (c *Client) ScheduleJob(req ScheduleJobRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs", req, &job)
	return &job, err
}

// GetJob возвращает задачу по ID.
func (c *Client) GetJob(id int64) (*JobResponse, error) {
	var job JobResponse
	err := c.get("/api/v1/jobs/"+strconv.FormatInt(id, 10), &job)
	return &job, err
}

// CancelJob отменяет задачу на всех узлах.
func (c *Client) CancelJob(id int64) (*CancelJobResponse, error) {
	var resp CancelJobResponse
	err := c.delete("/api/v1/jobs/"+strconv.FormatInt(id, 10), &resp)
	return &resp, err
}

// RescheduleJob переносит задачу.
func (c *Client) RescheduleJob(id int64, req RescheduleJobRequest) (*RescheduleJobResponse, error) {
	var resp RescheduleJobResponse
	err := c.post("/api/v1/jobs/"+strconv.FormatInt(id, 10)+"/reschedule", req, &resp)
	return &resp, err
}

// --- Cluster ---

// ClusterStatus возвращает состояние кластера с точки зрения узла.
func (c *Client) ClusterStatus() (*ClusterResponse, error) {
	var status ClusterResponse
	err := c.get("/api/v1/cluster", &status)
	return &status, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string, result any) error {
	return c.doData(http.MethodDelete, path, nil, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
