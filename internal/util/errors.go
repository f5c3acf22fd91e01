// Package util provides error kinds and validation helpers shared by the
// QRMI packages.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotReady.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigError, ProviderError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// Credential values never appear in error text.
package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by resources, the request pipeline and the
// credential store.
var (
	// ErrTransientNetwork is returned once transient retries are exhausted.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrAuthenticationFailed is returned when the provider rejects a
	// freshly refreshed credential.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrCredentialsMissing is returned when no secret is available to
	// obtain a credential.
	ErrCredentialsMissing = errors.New("credentials missing")

	// ErrMalformedCredential is returned for tokens that cannot be parsed.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrResourceUnavailable is returned when the provider reports the
	// backend as down, retired or otherwise unusable.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrTypeMismatch is returned when a payload does not match the
	// resource kind.
	ErrTypeMismatch = errors.New("payload type mismatch")

	// ErrNotReady is returned when a task result is requested before the
	// task completed.
	ErrNotReady = errors.New("task result not ready")

	// ErrSessionInvalid is returned for operations on a released or
	// never acquired session.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrTaskNotFound is returned for unknown task identifiers.
	ErrTaskNotFound = errors.New("task not found")

	// ErrConfigInvalid is returned for invalid configuration.
	ErrConfigInvalid = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		if e.Cause != nil {
			return fmt.Sprintf("config error at %s: %s: %v", e.Field, e.Message, e.Cause)
		}
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// ProviderError describes a failed provider call. Body holds the
// provider's response body, which carries no request credentials.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Body       string
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := e.Provider
	if e.Operation != "" {
		msg = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d %s", msg, e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ProviderError) Is(target error) bool {
	_, ok := target.(*ProviderError)
	return ok || errors.Is(e.Cause, target)
}

// NewProviderError creates a ProviderError for an unexpected HTTP status.
func NewProviderError(provider, operation string, statusCode int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: statusCode,
		Body:       body,
	}
}

// NewProviderErrorWithCause creates a ProviderError wrapping an error kind.
func NewProviderErrorWithCause(provider, operation string, statusCode int, body string, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: statusCode,
		Body:       body,
		Cause:      cause,
	}
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable reports whether the error kind is worth retrying by a caller.
// Only transient network failures qualify; everything else is terminal or
// requires caller action.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientNetwork)
}
