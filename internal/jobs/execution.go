package jobs

import (
	"context"
	"time"
)

// Execution — сведения о выполняемой задаче.
type Execution struct {
	JobID int64
	Queue string
	RunAt time.Time

	// Redelivered — анонс задачи выдавался брокером повторно,
	// то есть задача могла уже выполняться на другом узле.
	Redelivered bool
}

type executionKey struct{}

// WithExecution кладёт Execution в контекст.
func WithExecution(ctx context.Context, exec Execution) context.Context {
	return context.WithValue(ctx, executionKey{}, exec)
}

// ExecutionFromContext возвращает Execution текущей задачи.
func ExecutionFromContext(ctx context.Context) (Execution, bool) {
	exec, ok := ctx.Value(executionKey{}).(Execution)
	return exec, ok
}
