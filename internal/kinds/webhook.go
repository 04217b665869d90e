package kinds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/shaiso/Quorum/internal/jobs"
)

// KindWebhook — kind задачи WebhookJob.
const KindWebhook = "webhook"

const defaultWebhookTimeout = 30 * time.Second

// WebhookJob выполняет HTTP-запрос.
type WebhookJob struct {
	URL string `json:"url"`

	// Method — HTTP-метод. По умолчанию POST.
	Method string `json:"method,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`

	// Body отправляется как есть, Content-Type по умолчанию application/json.
	Body json.RawMessage `json:"body,omitempty"`

	// TimeoutSec — таймаут запроса. По умолчанию 30.
	TimeoutSec float64 `json:"timeout_sec,omitempty"`
}

// Kind реализует jobs.Job.
func (WebhookJob) Kind() string { return KindWebhook }

// Timeout возвращает таймаут запроса.
func (j WebhookJob) Timeout() time.Duration {
	if j.TimeoutSec > 0 {
		return time.Duration(j.TimeoutSec * float64(time.Second))
	}
	return defaultWebhookTimeout
}

type webhook struct {
	client *http.Client
}

func (w *webhook) handle(ctx context.Context, job WebhookJob) error {
	if job.URL == "" {
		return ErrMissingURL
	}

	method := job.Method
	if method == "" {
		method = http.MethodPost
	}

	ctx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	var body io.Reader
	if len(job.Body) > 0 {
		body = bytes.NewReader(job.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, job.URL, body)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}

	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if exec, ok := jobs.ExecutionFromContext(ctx); ok {
		req.Header.Set("X-Quorum-Job-ID", strconv.FormatInt(exec.JobID, 10))
		req.Header.Set("X-Quorum-Redelivered", strconv.FormatBool(exec.Redelivered))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrHTTPStatus, resp.StatusCode, truncate(string(respBody), 200))
	}
	return nil
}

// truncate обрезает строку до maxLen байт, не разрезая руну.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
