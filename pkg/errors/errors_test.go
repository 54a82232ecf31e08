package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	assert.Same(t, originalErr, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.ErrorIs(t, err, originalErr)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestNotFoundFlavoursStayDistinct(t *testing.T) {
	dir := NewDirectoryNotFoundError("r1")
	ext := NewExternalNotFoundError("r1")

	assert.Equal(t, http.StatusNotFound, dir.HTTPStatus)
	assert.Equal(t, http.StatusNotFound, ext.HTTPStatus)
	assert.NotEqual(t, dir.Code, ext.Code)
	assert.True(t, IsNotFound(dir))
	assert.True(t, IsNotFound(ext))
	assert.False(t, errors.Is(dir, ext))
	assert.Equal(t, "r1", dir.Context["room_id"])
}

func TestAuthErrorsAreUnauthorized(t *testing.T) {
	codes := []ErrorCode{
		ErrCodeAuthExpiredWindow,
		ErrCodeAuthMethodMismatch,
		ErrCodeAuthPathMismatch,
		ErrCodeAuthBadSignature,
		ErrCodeAuthMalformed,
		ErrCodeAuthMissingHeader,
	}
	for _, code := range codes {
		err := NewAuthError(code, "nope")
		assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus, code)
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("restart: %w", NewForbiddenError("only the host can restart the nest"))

	assert.ErrorIs(t, wrapped, NewForbiddenError(""))
	assert.False(t, errors.Is(wrapped, NewConflictError("")))
}

func TestExternalServiceError(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewExternalServiceError(cause, "failed to create room")

	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	assert.True(t, HasCode(err, ErrCodeExternalService))
	assert.ErrorIs(t, err, cause)
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	assert.Same(t, appErr, GetAppError(appErr))

	wrapped := fmt.Errorf("handler: %w", appErr)
	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)

	assert.Nil(t, GetAppError(errors.New("regular error")))
	assert.Nil(t, GetAppError(nil))
}
