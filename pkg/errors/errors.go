package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"

	ErrCodeAuthExpiredWindow  ErrorCode = "AUTH_EXPIRED_WINDOW"
	ErrCodeAuthMethodMismatch ErrorCode = "AUTH_METHOD_MISMATCH"
	ErrCodeAuthPathMismatch   ErrorCode = "AUTH_PATH_MISMATCH"
	ErrCodeAuthBadSignature   ErrorCode = "AUTH_BAD_SIGNATURE"
	ErrCodeAuthMalformed      ErrorCode = "AUTH_MALFORMED"
	ErrCodeAuthMissingHeader  ErrorCode = "AUTH_MISSING_HEADER"

	// Directory and external not-found stay distinct so callers can tell
	// a forgotten room from one the media service already collected.
	ErrCodeNotFoundDirectory ErrorCode = "NOT_FOUND_DIRECTORY"
	ErrCodeNotFoundExternal  ErrorCode = "NOT_FOUND_EXTERNAL"

	ErrCodeExternalService       ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeSystemicInconsistency ErrorCode = "SYSTEMIC_INCONSISTENCY"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so a bare
// NewForbiddenError("") works as an errors.Is target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

// NewAuthError builds one of the AUTH_* errors. All of them are 401.
func NewAuthError(code ErrorCode, message string) *AppError {
	return NewAppError(code, message, http.StatusUnauthorized)
}

func NewDirectoryNotFoundError(roomID string) *AppError {
	return NewAppError(ErrCodeNotFoundDirectory, "nest not found", http.StatusNotFound).
		WithContext("room_id", roomID)
}

func NewExternalNotFoundError(roomID string) *AppError {
	return NewAppError(ErrCodeNotFoundExternal, "nest is no longer active", http.StatusNotFound).
		WithContext("room_id", roomID)
}

func NewExternalServiceError(err error, message string) *AppError {
	return WrapError(err, ErrCodeExternalService, message, http.StatusBadGateway)
}

func NewSystemicInconsistencyError(roomID string) *AppError {
	return NewAppError(ErrCodeSystemicInconsistency,
		"room is active in the directory but unreachable on the media service",
		http.StatusInternalServerError).WithContext("room_id", roomID)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsNotFound covers both the directory and the external flavour.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFoundDirectory) || HasCode(err, ErrCodeNotFoundExternal)
}
