package config

import "errors"

var (
	// ErrInvalidConfig — конфигурация не прошла проверку.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNoNodeID — не удалось построить идентификатор узла.
	ErrNoNodeID = errors.New("no hostname or env var found for node id")
)
