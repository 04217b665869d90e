package recurring

import "errors"

var (
	// ErrInvalidDefinition — определение периодической задачи некорректно.
	ErrInvalidDefinition = errors.New("invalid recurring definition")
)
