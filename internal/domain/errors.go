package domain

import "errors"

// Общие ошибки хранилищ.
var (
	// ErrJobNotFound — записи задачи нет в хранилище.
	ErrJobNotFound = errors.New("job not found")

	// ErrLeaseNotFound — записи lease нет в хранилище.
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrLeaseConflict — lease уже создан или ResourceVersion устарел.
	ErrLeaseConflict = errors.New("lease conflict")
)
