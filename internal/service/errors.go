package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrBadRequest         = errors.New("bad request")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrNotFound           = errors.New("user not found")
	ErrAlreadyDeleted     = errors.New("user already deleted")
	ErrNotDeleted         = errors.New("user is not deleted")
	ErrConflict           = errors.New("email already in use")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal error")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrBadRequest
}

func validationFailed(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrTooManyAttempts
}

// internal logs an infrastructure failure and hides it behind ErrInternal.
func internal(log zerolog.Logger, op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("infrastructure failure")
	return fmt.Errorf("%w: %s", ErrInternal, op)
}
