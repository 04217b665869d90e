package broadcast

import "errors"

// Ошибки реестра.
var (
	// ErrRegistryFrozen — регистрация после Freeze.
	ErrRegistryFrozen = errors.New("broadcast registry is frozen")

	// ErrRegistryOpen — Dispatch/Encode до Freeze.
	ErrRegistryOpen = errors.New("broadcast registry is not frozen yet")

	// ErrDuplicateID — id уже занят другим типом.
	ErrDuplicateID = errors.New("broadcast message id already registered")

	// ErrUnknownMessage — id не зарегистрирован.
	ErrUnknownMessage = errors.New("unknown broadcast message id")
)
