package election

import (
	"errors"

	"github.com/shaiso/Quorum/internal/domain"
)

// Ошибки пакета election.
var (
	// ErrLeaseNotFound — записи lease нет в хранилище.
	ErrLeaseNotFound = domain.ErrLeaseNotFound

	// ErrLeaseConflict — lease уже создан или ResourceVersion устарел.
	ErrLeaseConflict = domain.ErrLeaseConflict

	// ErrNotOwner — попытка продлить lease, которым владеет другой узел.
	ErrNotOwner = errors.New("refusing to renew a lease we don't own")

	// ErrAlreadyRunning — Run уже был вызван.
	ErrAlreadyRunning = errors.New("elector already running")

	// ErrInvalidConfig — некорректная конфигурация.
	ErrInvalidConfig = errors.New("invalid election config")
)
