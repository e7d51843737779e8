package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeModelNotReady  = "MODEL_NOT_READY"
	ErrCodeInference      = "INFERENCE_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeTimeout        = "REQUEST_TIMEOUT"
)

// Sentinel errors shared across layers. Handlers map them to HTTP statuses.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrKeyResolutionFailed = errors.New("signing key could not be resolved")
	ErrModelNotReady       = errors.New("model artifacts are not loaded")
	ErrInferenceFailed     = errors.New("inference failed")
	ErrInvalidArtifacts    = errors.New("invalid pipeline artifacts")
)

// AuthErrorKind classifies why a credential was rejected.
type AuthErrorKind string

const (
	AuthMissingCredential    AuthErrorKind = "missing_credential"
	AuthInvalidToken         AuthErrorKind = "invalid_token"
	AuthInvalidSignature     AuthErrorKind = "invalid_signature"
	AuthTokenExpired         AuthErrorKind = "token_expired"
	AuthKeyResolutionFailed  AuthErrorKind = "key_resolution_failed"
	AuthUnsupportedAlgorithm AuthErrorKind = "unsupported_algorithm"
)

// AuthError is a typed credential rejection. Every AuthError matches
// ErrUnauthenticated; key resolution failures also match ErrKeyResolutionFailed.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

// NewAuthError creates a new AuthError
func NewAuthError(kind AuthErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unauthenticated: %s", e.Kind)
	}
	return fmt.Sprintf("unauthenticated: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is makes every AuthError match ErrUnauthenticated.
func (e *AuthError) Is(target error) bool {
	if target == ErrUnauthenticated {
		return true
	}
	return e.Kind == AuthKeyResolutionFailed && target == ErrKeyResolutionFailed
}

// AuthKind extracts the rejection kind from err, if it carries one.
func AuthKind(err error) (AuthErrorKind, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message string, details any, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
