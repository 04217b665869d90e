package domain

// JobState — состояние задачи с точки зрения узла, который её держит.
//
// Жизненный цикл на узле:
//
//	(анонс получен) → ARMED → EXECUTING → (ack, строка удалена)
//	                   ↑  │
//	                   └──┘ reschedule
//
// Пока анонс не забран, задача существует только как строка в хранилище.
type JobState string

const (
	// JobStateArmed — анонс удерживается, таймер взведён.
	JobStateArmed JobState = "ARMED"

	// JobStateExecuting — обработчик запущен, отмена невозможна.
	JobStateExecuting JobState = "EXECUTING"
)

// String возвращает строковое представление JobState.
func (s JobState) String() string {
	return string(s)
}

// ExecutionResult — итог выполнения задачи (метка для метрик и логов).
type ExecutionResult string

const (
	ExecutionSucceeded ExecutionResult = "succeeded"
	ExecutionFailed    ExecutionResult = "failed"
	ExecutionDropped   ExecutionResult = "dropped"
)
