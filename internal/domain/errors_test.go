package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   any
		requestID string
	}{
		{
			name:      "Authentication error",
			code:      ErrCodeAuthentication,
			message:   "Token de autenticación inválido",
			requestID: "req-123",
		},
		{
			name:      "Validation error with details",
			code:      ErrCodeValidation,
			message:   "Invalid clinical record",
			details:   []*ValidationError{NewValidationError("glasgow", "must be between 3 and 15", 2)},
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}

			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}

			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}

			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{
			name:    "Integer range error",
			field:   "glasgow",
			message: "must be between 3 and 15",
			value:   16,
		},
		{
			name:    "Negative lab value",
			field:   "plaquetas",
			message: "must be greater than or equal to 0",
			value:   -1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, err.Field)
			}

			if err.Value != tt.value {
				t.Errorf("Expected value %v, got %v", tt.value, err.Value)
			}

			expectedError := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestAuthError(t *testing.T) {
	kinds := []AuthErrorKind{
		AuthMissingCredential,
		AuthInvalidToken,
		AuthInvalidSignature,
		AuthTokenExpired,
		AuthKeyResolutionFailed,
		AuthUnsupportedAlgorithm,
	}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", NewAuthError(kind, errors.New("cause")))

			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("Expected %s to match ErrUnauthenticated", kind)
			}

			got, ok := AuthKind(err)
			if !ok || got != kind {
				t.Errorf("Expected kind %s, got %s (ok=%v)", kind, got, ok)
			}

			isKeyFailure := errors.Is(err, ErrKeyResolutionFailed)
			if isKeyFailure != (kind == AuthKeyResolutionFailed) {
				t.Errorf("Unexpected ErrKeyResolutionFailed match for %s: %v", kind, isKeyFailure)
			}
		})
	}
}

func TestAuthError_UnwrapsCause(t *testing.T) {
	cause := errors.New("fetch failed")
	err := NewAuthError(AuthKeyResolutionFailed, cause)

	if !errors.Is(err, cause) {
		t.Errorf("Expected AuthError to unwrap to its cause")
	}
	if _, ok := AuthKind(cause); ok {
		t.Errorf("Plain errors must not carry an auth kind")
	}
}

func TestErrorConstants(t *testing.T) {
	constants := map[string]string{
		"ErrCodeInvalidInput":   ErrCodeInvalidInput,
		"ErrCodeAuthentication": ErrCodeAuthentication,
		"ErrCodeModelNotReady":  ErrCodeModelNotReady,
		"ErrCodeInference":      ErrCodeInference,
		"ErrCodeRateLimit":      ErrCodeRateLimit,
		"ErrCodeInternalServer": ErrCodeInternalServer,
		"ErrCodeValidation":     ErrCodeValidation,
	}

	expectedValues := map[string]string{
		"ErrCodeInvalidInput":   "INVALID_INPUT",
		"ErrCodeAuthentication": "AUTHENTICATION_ERROR",
		"ErrCodeModelNotReady":  "MODEL_NOT_READY",
		"ErrCodeInference":      "INFERENCE_ERROR",
		"ErrCodeRateLimit":      "RATE_LIMIT_EXCEEDED",
		"ErrCodeInternalServer": "INTERNAL_SERVER_ERROR",
		"ErrCodeValidation":     "VALIDATION_ERROR",
	}

	for name, actual := range constants {
		expected := expectedValues[name]
		if actual != expected {
			t.Errorf("Expected %s to be %s, got %s", name, expected, actual)
		}
	}
}
