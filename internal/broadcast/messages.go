package broadcast

import "time"

// Идентификаторы сообщений кластера. Значения — часть протокола
// между узлами и не должны меняться.
const (
	MsgCancelJob     MessageID = 1
	MsgRescheduleJob MessageID = 2
	MsgLeaderChanged MessageID = 3
)

// CancelJob — отмена задачи на узле, который её держит.
type CancelJob struct {
	ID int64 `json:"id"`
}

// RescheduleJob — перенос задачи на новое время.
type RescheduleJob struct {
	ID   int64     `json:"id"`
	Time time.Time `json:"time"`
}

// LeaderChanged — уведомление о смене лидера.
// Пустой Identity означает, что лидер освободил lease.
type LeaderChanged struct {
	Identity string `json:"identity"`
}
