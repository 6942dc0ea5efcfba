package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesLocation(t *testing.T) {
	err := New("something broke")

	require.NotNil(t, err)
	assert.Equal(t, "something broke", err.Error())
	assert.Contains(t, err.Location(), "errors_test.go")
}

func TestWrapPreservesOriginal(t *testing.T) {
	original := errors.New("socket closed")
	wrapped := Wrap(original, "switch read failed")

	assert.Equal(t, "switch read failed: socket closed", wrapped.Error())
	assert.True(t, errors.Is(wrapped, original))
	assert.Equal(t, original, wrapped.Unwrap())
}

func TestWithFieldsAccumulate(t *testing.T) {
	err := New("queue lane is full").
		WithField("lane", "synthesis_persist").
		WithFields(map[string]interface{}{"job_id": "j-1"})

	fields := err.GetFields()
	assert.Equal(t, "synthesis_persist", fields["lane"])
	assert.Equal(t, "j-1", fields["job_id"])
}

func TestWithCode(t *testing.T) {
	err := New("bad request").WithCode("BAD_REQUEST")

	assert.Equal(t, "BAD_REQUEST", err.GetCode())
	assert.Equal(t, "BAD_REQUEST", GetErrorCode(err))
}

func TestNewCallNotFoundMatchesSentinel(t *testing.T) {
	err := NewCallNotFound("abc-123")

	assert.True(t, errors.Is(err, ErrCallNotFound))
	assert.Equal(t, "abc-123", err.GetFields()["call_id"])
	assert.Equal(t, "CALL_NOT_FOUND", err.GetCode())
}

func TestNewInvalidNotificationMatchesSentinel(t *testing.T) {
	err := NewInvalidNotification("recording location is required")

	assert.True(t, IsErrorType(err, ErrInvalidNotification))
	assert.Contains(t, err.Error(), "recording location is required")
}

func TestGetErrorCodeOnPlainError(t *testing.T) {
	assert.Equal(t, "", GetErrorCode(errors.New("plain")))
	assert.Nil(t, GetErrorFields(errors.New("plain")))
}

func TestSentinelComparison(t *testing.T) {
	wrapped := Wrap(ErrProviderUnavailable, "no credentials")
	assert.True(t, IsErrorType(wrapped, ErrProviderUnavailable))
	assert.False(t, IsErrorType(wrapped, ErrQueueClosed))
}
