package errs

import (
	"errors"
	"fmt"
)

var (
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrTechnicianNotFound = errors.New("technician not found")

	// ErrRetrievalUnavailable: индекс исторических тикетов или бэкенд эмбеддингов недоступен.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrLLMUnavailable       = errors.New("language model unavailable")
	ErrLLMTimeout           = errors.New("language model timeout")

	// ErrNoTechnicianAvailable не фатальна для пользователя: тикет остаётся в очереди на повтор.
	ErrNoTechnicianAvailable = errors.New("no technician available")
	ErrDuplicateTicketNumber = errors.New("duplicate ticket number")
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrValidation            = errors.New("validation error")
	ErrInvalidTransition     = errors.New("invalid transition")
)

// ValidationError describes a rejected creation or update input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// TransitionError is returned for status changes missing from the lifecycle table.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
