package domain

import "time"

// DefaultQueue — очередь задач по умолчанию.
const DefaultQueue = "default"

// ScheduledJob — отложенная задача, ожидающая выполнения.
//
// Одна строка на каждую ожидающую задачу. Создаётся при Schedule,
// читается узлом, забравшим анонс, и удаляется после выполнения
// (успешного или нет) либо после отмены.
type ScheduledJob struct {
	// ID — идентификатор, назначенный хранилищем.
	ID int64 `json:"id"`

	// BackingType — kind задачи, определяет обработчик.
	BackingType string `json:"backing_type"`

	// Payload — сериализованный конверт {"t": тег типа, "d": данные}.
	// Может быть пустым для задач без данных.
	Payload []byte `json:"payload,omitempty"`

	// Queue — логическая группа обработчиков.
	Queue string `json:"queue"`

	// RunAt — абсолютное время запуска.
	RunAt time.Time `json:"run_at"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// IsDue проверяет, пора ли выполнять задачу.
func (j *ScheduledJob) IsDue(now time.Time) bool {
	return !j.RunAt.After(now)
}

// Lateness возвращает, насколько задача опоздала относительно RunAt.
// Для задач в будущем возвращает 0.
func (j *ScheduledJob) Lateness(now time.Time) time.Duration {
	if d := now.Sub(j.RunAt); d > 0 {
		return d
	}
	return 0
}
