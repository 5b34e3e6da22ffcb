package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrBadRequest, "Test error", http.StatusBadRequest)

	assert.Equal(t, ErrBadRequest, err.Code)
	assert.Equal(t, "Test error", err.Message)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Nil(t, err.Err)
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := Wrap(originalErr, ErrInternal, "Wrapped error", http.StatusInternalServerError)

	assert.Equal(t, ErrInternal, err.Code)
	assert.Equal(t, "Wrapped error", err.Message)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	assert.Equal(t, originalErr, err.Err)
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "Error without details",
			err: &AppError{
				Code:    ErrBadRequest,
				Message: "Invalid request",
			},
			expected: "[BAD_REQUEST] Invalid request",
		},
		{
			name: "Error with details",
			err: &AppError{
				Code:    ErrBadRequest,
				Message: "Invalid request",
				Details: "Missing field: user_id",
			},
			expected: "[BAD_REQUEST] Invalid request: Missing field: user_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_WithMetadata(t *testing.T) {
	err := New(ErrDeviceNotFound, "Device not found", http.StatusNotFound)
	err.WithMetadata("device_id", "123")

	assert.NotNil(t, err.Metadata)
	assert.Equal(t, "123", err.Metadata["device_id"])

	// Add another metadata field
	err.WithMetadata("attempted_at", "2024-01-01")
	assert.Equal(t, 2, len(err.Metadata))
}

func TestAppError_WithDetails(t *testing.T) {
	err := New(ErrBadRequest, "Invalid request", http.StatusBadRequest)
	err.WithDetails("user_id cannot be empty")

	assert.Equal(t, "user_id cannot be empty", err.Details)
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := Wrap(originalErr, ErrInternal, "Wrapped error", http.StatusInternalServerError)

	unwrapped := err.Unwrap()
	assert.Equal(t, originalErr, unwrapped)
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name           string
		createError    func() *AppError
		expectedCode   ErrorCode
		expectedStatus int
	}{
		{
			name:           "Internal",
			createError:    func() *AppError { return Internal("System error", nil) },
			expectedCode:   ErrInternal,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "NotFound",
			createError:    func() *AppError { return NotFound("Device") },
			expectedCode:   ErrNotFound,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "BadRequest",
			createError:    func() *AppError { return BadRequest("Invalid input") },
			expectedCode:   ErrBadRequest,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Conflict",
			createError:    func() *AppError { return Conflict("Resource exists") },
			expectedCode:   ErrConflict,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "ValidationError",
			createError:    func() *AppError { return ValidationError("Validation failed") },
			expectedCode:   ErrValidation,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Timeout",
			createError:    func() *AppError { return Timeout("Request timeout") },
			expectedCode:   ErrTimeout,
			expectedStatus: http.StatusGatewayTimeout,
		},
		{
			name:           "RateLimit",
			createError:    func() *AppError { return RateLimit("Too many requests") },
			expectedCode:   ErrRateLimit,
			expectedStatus: http.StatusTooManyRequests,
		},
		{
			name:           "ServiceUnavailable",
			createError:    func() *AppError { return ServiceUnavailable("Dependency down") },
			expectedCode:   ErrServiceUnavailable,
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createError()
			assert.Equal(t, tt.expectedCode, err.Code)
			assert.Equal(t, tt.expectedStatus, err.StatusCode)
		})
	}
}

func TestResourceSpecificErrors(t *testing.T) {
	t.Run("DeviceNotFound", func(t *testing.T) {
		err := DeviceNotFound("device-123")
		assert.Equal(t, ErrDeviceNotFound, err.Code)
		assert.Equal(t, http.StatusNotFound, err.StatusCode)
		assert.Equal(t, "device-123", err.Metadata["device_id"])
	})

	t.Run("AssessmentNotFound", func(t *testing.T) {
		err := AssessmentNotFound("req_abc123def456")
		assert.Equal(t, ErrAssessmentNotFound, err.Code)
		assert.Equal(t, http.StatusNotFound, err.StatusCode)
		assert.Equal(t, "req_abc123def456", err.Metadata["request_id"])
	})

	t.Run("DuplicateAccess", func(t *testing.T) {
		err := DuplicateAccess("device-456")
		assert.Equal(t, ErrDuplicateAccess, err.Code)
		assert.Equal(t, http.StatusConflict, err.StatusCode)
		assert.Equal(t, "device-456", err.Metadata["device_id"])
	})

	t.Run("ProviderError", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ProviderError("lookup 203.0.113.7", cause)
		assert.Equal(t, ErrProviderError, err.Code)
		assert.Equal(t, http.StatusBadGateway, err.StatusCode)
		assert.Equal(t, "lookup 203.0.113.7", err.Details)
		assert.Equal(t, cause, err.Err)
	})
}

func TestDatabaseErrors(t *testing.T) {
	t.Run("DatabaseError", func(t *testing.T) {
		originalErr := errors.New("connection timeout")
		err := DatabaseError("insert device", originalErr)
		assert.Equal(t, ErrDatabase, err.Code)
		assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
		assert.Equal(t, "insert device", err.Details)
		assert.Equal(t, originalErr, err.Err)
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		err := DuplicateKey("device_fingerprint")
		assert.Equal(t, ErrDuplicateKey, err.Code)
		assert.Equal(t, http.StatusConflict, err.StatusCode)
		assert.Equal(t, "device_fingerprint", err.Metadata["key"])
	})
}

func TestIsErrorCode(t *testing.T) {
	t.Run("Matching error code", func(t *testing.T) {
		err := DeviceNotFound("device-123")
		assert.True(t, IsErrorCode(err, ErrDeviceNotFound))
	})

	t.Run("Non-matching error code", func(t *testing.T) {
		err := DeviceNotFound("device-123")
		assert.False(t, IsErrorCode(err, ErrBadRequest))
	})

	t.Run("Non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsErrorCode(err, ErrInternal))
	})
}

func TestGetStatusCode(t *testing.T) {
	t.Run("AppError status code", func(t *testing.T) {
		err := BadRequest("Invalid input")
		assert.Equal(t, http.StatusBadRequest, GetStatusCode(err))
	})

	t.Run("Non-AppError returns 500", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, http.StatusInternalServerError, GetStatusCode(err))
	})
}

func TestErrorChaining(t *testing.T) {
	t.Run("Chain multiple errors", func(t *testing.T) {
		// Create a chain of errors
		baseErr := errors.New("connection refused")
		dbErr := Wrap(baseErr, ErrDatabase, "Failed to connect", http.StatusInternalServerError)
		appErr := Wrap(dbErr, ErrInternal, "Service unavailable", http.StatusServiceUnavailable)

		// Verify we can unwrap the chain
		assert.Equal(t, dbErr, appErr.Unwrap())
		assert.Equal(t, baseErr, dbErr.Unwrap())
	})
}

func TestErrorMetadataChaining(t *testing.T) {
	err := DeviceNotFound("device-123")
	err.WithMetadata("action", "trust_update")
	err.WithMetadata("ip", "192.168.1.1")
	err.WithDetails("Device may have been deleted")

	assert.Equal(t, 3, len(err.Metadata))
	assert.Equal(t, "device-123", err.Metadata["device_id"])
	assert.Equal(t, "trust_update", err.Metadata["action"])
	assert.Equal(t, "192.168.1.1", err.Metadata["ip"])
	assert.Equal(t, "Device may have been deleted", err.Details)
}

// Benchmark tests
func BenchmarkNewError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = New(ErrBadRequest, "Test error", http.StatusBadRequest)
	}
}

func BenchmarkWrapError(b *testing.B) {
	originalErr := errors.New("original error")
	for i := 0; i < b.N; i++ {
		_ = Wrap(originalErr, ErrInternal, "Wrapped error", http.StatusInternalServerError)
	}
}

func BenchmarkDeviceNotFound(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DeviceNotFound("device-123")
	}
}

func BenchmarkWithMetadata(b *testing.B) {
	for i := 0; i < b.N; i++ {
		err := New(ErrBadRequest, "Test", http.StatusBadRequest)
		err.WithMetadata("key", "value")
	}
}
