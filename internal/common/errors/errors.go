package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// User-correctable: shown to the user, transaction rolled back, not escalated.
	ErrCodeEventNotStarted ErrorCode = "EVENT_NOT_STARTED"
	ErrCodeEventEnded      ErrorCode = "EVENT_ENDED"
	ErrCodeTooManyKnocks   ErrorCode = "TOO_MANY_KNOCKS"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotConfigured   ErrorCode = "NOT_CONFIGURED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeOutOfPrizes     ErrorCode = "OUT_OF_PRIZES"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeUnknownCommand  ErrorCode = "UNKNOWN_COMMAND"

	// Infrastructural: logged and returned so the queue redelivers.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrCodeQueueError    ErrorCode = "QUEUE_ERROR"
	ErrCodeDiscordAPI    ErrorCode = "DISCORD_API_ERROR"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a typed application error.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsUserFacing reports whether the error should be rendered to the user
// as-is rather than escalated.
func (e *AppError) IsUserFacing() bool {
	switch e.Code {
	case ErrCodeEventNotStarted, ErrCodeEventEnded, ErrCodeTooManyKnocks, ErrCodeRateLimited,
		ErrCodeValidation, ErrCodeNotConfigured, ErrCodeForbidden, ErrCodeOutOfPrizes,
		ErrCodeConflict, ErrCodeUnknownCommand:
		return true
	}
	return false
}

// IsInfrastructure reports whether the error came from a dependency and the
// surrounding work should be retried by the queue.
func (e *AppError) IsInfrastructure() bool {
	return e.Code == ErrCodeDatabaseError ||
		e.Code == ErrCodeQueueError ||
		e.Code == ErrCodeDiscordAPI
}

// WithDetail attaches a structured detail.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value or nil.
func (e *AppError) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewEventNotStartedError(start, end *time.Time) *AppError {
	return New(ErrCodeEventNotStarted, "The event hasn't started yet").
		WithDetail("start_date", start).
		WithDetail("end_date", end)
}

func NewEventEndedError(end time.Time) *AppError {
	return New(ErrCodeEventEnded, "The event has ended").
		WithDetail("end_date", end)
}

func NewTooManyKnocksError(knocksPerDay, resetHour int, lastReset time.Time) *AppError {
	return New(ErrCodeTooManyKnocks, "You're out of knocks for now").
		WithDetail("knocks_per_day", knocksPerDay).
		WithDetail("reset_time", resetHour).
		WithDetail("last_reset", lastReset)
}

func NewRateLimitedError(reason string) *AppError {
	return New(ErrCodeRateLimited, reason)
}

func NewNotConfiguredError(guildID string) *AppError {
	return New(ErrCodeNotConfigured, "Settings haven't been configured for this server yet").
		WithDetail("guild_id", guildID)
}

func NewForbiddenError(reason string) *AppError {
	return New(ErrCodeForbidden, reason)
}

func NewOutOfPrizesError(guildID string) *AppError {
	return New(ErrCodeOutOfPrizes, "We're all out of prizes").
		WithDetail("guild_id", guildID)
}

func NewConflictError(resource, reason string) *AppError {
	return New(ErrCodeConflict, fmt.Sprintf("Conflict with %s: %s", resource, reason)).
		WithDetail("resource", resource)
}

func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseError, fmt.Sprintf("Database operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewQueueError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeQueueError, fmt.Sprintf("Queue operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewDiscordAPIError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDiscordAPI, fmt.Sprintf("Discord API operation failed: %s", operation)).
		WithDetail("operation", operation)
}

// AsAppError extracts an AppError anywhere in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// ToAppError returns the AppError in err's chain, or wraps err as an
// internal error.
func ToAppError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return Wrap(err, ErrCodeInternal, "Internal error")
}
