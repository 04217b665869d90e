// Package api содержит admin HTTP API узла Quorum.
//
// Структура:
//   - handler.go         — Handler и интерфейсы зависимостей
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (logging, recovery)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects (request/response)
//   - job_handler.go     — обработчики для /jobs
//   - cluster_handler.go — состояние кластера с точки зрения узла
//
// Отмена и перенос через API всегда рассылаются всем узлам.
package api
