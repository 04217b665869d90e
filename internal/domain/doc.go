// Package domain содержит доменные типы Quorum.
//
// Типы:
//   - lease.go  — Lease, запись аренды для leader election
//   - job.go    — ScheduledJob, строка отложенной задачи
//   - status.go — JobState, жизненный цикл задачи на узле-владельце
//   - recurring.go — RecurringJob, периодическая задача лидера
//   - errors.go — общие sentinel-ошибки хранилищ
//
// Пакет не зависит от инфраструктуры (БД, RabbitMQ, Redis).
package domain
