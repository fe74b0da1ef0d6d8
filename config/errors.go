package config

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError is a fatal, startup-time error: an unknown security mode, missing
// certificate material or an empty signing secret. A process receiving one must exit before it
// accepts or issues any calls.
type ConfigurationError struct {
	// Key names the offending setting, e.g. "CLIENT_SECURITY" or "client.key".
	Key string
	Err error
}

// NewConfigurationError returns a ConfigurationError for the given setting.
func NewConfigurationError(key string, err error) error {
	return &ConfigurationError{Key: key, Err: err}
}

// NewConfigurationFieldRequiredError is used when a required setting is absent.
func NewConfigurationFieldRequiredError(key string) error {
	return NewConfigurationError(key, errors.New("is required"))
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %q %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError returns whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
