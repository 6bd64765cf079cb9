package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external service
// interactions. Provider errors match these sentinels through errors.Is so
// callers classify failures by type rather than by message text.
var (
	// ErrAuthenticationFailed indicates that authentication with the
	// reasoning service failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrModelUnavailable indicates that the configured model does not
	// exist or is not accessible with the configured credentials.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrPayloadTooLarge indicates that the request exceeded the model's
	// context window.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrRateLimited indicates that the service has rate limited the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that the external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that the service returned an invalid
	// response.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAuditExists indicates that an audit for the interaction was
	// persisted by a concurrent request.
	ErrAuditExists = errors.New("audit already exists")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
