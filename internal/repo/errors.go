package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrConflict — запись изменена другим узлом (устаревшая версия)
	// или уже существует.
	ErrConflict = errors.New("conflict")
)
