package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError reports a parameter that makes a computation impossible. It is returned before
// any work starts, so no partial map or image accompanies it.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// NewConfigError returns a ConfigError for the named parameter.
func NewConfigError(param, format string, args ...interface{}) error {
	return &ConfigError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err, or anything it wraps, is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// InvalidDistortionError is used when the distortion coefficients are missing or invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(NewConfigError("distortion_parameters", "%s", msg), "invalid distortion_parameters")
}
