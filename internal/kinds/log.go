package kinds

import (
	"context"
	"log/slog"

	"github.com/shaiso/Quorum/internal/jobs"
	"github.com/shaiso/Quorum/internal/telemetry"
)

// KindLog — kind задачи LogJob.
const KindLog = "log"

// LogJob пишет сообщение в лог.
type LogJob struct {
	Message string `json:"message"`

	// Level — debug, info, warn или error. По умолчанию info.
	Level string `json:"level,omitempty"`
}

// Kind реализует jobs.Job.
func (LogJob) Kind() string { return KindLog }

func logHandler(fallback *slog.Logger) jobs.Handler[LogJob] {
	return func(ctx context.Context, job LogJob) error {
		logger := fallback
		if _, ok := jobs.ExecutionFromContext(ctx); ok {
			logger = telemetry.FromContext(ctx)
		}

		level := slog.LevelInfo
		if job.Level != "" {
			level = telemetry.ParseLevel(job.Level)
		}
		logger.Log(ctx, level, job.Message, "kind", KindLog)
		return nil
	}
}
