// Package telemetry обеспечивает наблюдаемость узла.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики (quorum_*)
//
// Все узлы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
