package jobs

import (
	"errors"

	"github.com/shaiso/Quorum/internal/domain"
)

// Ошибки пакета jobs.
var (
	// ErrUnknownKind — kind задачи не зарегистрирован.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrPayloadType — тег типа в payload не совпадает с kind.
	ErrPayloadType = errors.New("job payload type mismatch")

	// ErrRescheduleInPast — новое время не в будущем.
	ErrRescheduleInPast = errors.New("reschedule time must be in the future")

	// ErrRegistryFrozen — регистрация после заморозки реестра.
	ErrRegistryFrozen = errors.New("job registry is frozen")

	// ErrRegistryOpen — реестр ещё не заморожен.
	ErrRegistryOpen = errors.New("job registry is not frozen yet")

	// ErrDuplicateKind — kind уже зарегистрирован.
	ErrDuplicateKind = errors.New("job kind already registered")

	// ErrNotStarted — Start ещё не вызван.
	ErrNotStarted = errors.New("scheduler not started")

	// ErrClosed — планировщик закрыт.
	ErrClosed = errors.New("scheduler closed")

	// ErrJobNotFound — строки задачи нет в хранилище.
	ErrJobNotFound = domain.ErrJobNotFound
)
