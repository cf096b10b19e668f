package core

import (
	"errors"
	"fmt"
)

// ErrCacheMiss is returned by stores when no usable entry exists
var ErrCacheMiss = errors.New("cache entry not found")

// ConfigError reports an invalid module configuration. Modules return it
// from their constructors and must not be started when it occurs.
type ConfigError struct {
	Module string
	Msg    string
}

func (e *ConfigError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("configuration error: %s", e.Msg)
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Module, e.Msg)
}

// NewConfigError formats a configuration error for a module
func NewConfigError(module, format string, args ...any) *ConfigError {
	return &ConfigError{Module: module, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is, or wraps, a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
