package classify

import (
	"errors"
	"fmt"
)

// AuthError indicates the classifier rejected our credentials (HTTP 401/403).
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("classifier auth error: %s", e.Message)
}

// QuotaError indicates the classifier is rate limited or out of quota
// (HTTP 429).
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("classifier quota exhausted: %s", e.Message)
}

// ConfigError indicates an invalid classifier configuration, such as a
// missing API key or an unknown model (HTTP 404).
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("classifier misconfigured: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsQuotaError reports whether err is a QuotaError.
func IsQuotaError(err error) bool {
	var quotaErr *QuotaError
	return errors.As(err, &quotaErr)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
