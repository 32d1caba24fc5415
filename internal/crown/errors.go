package crown

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = errors.New("invalid crown configuration")
	// ErrRange is matched by every *RangeError.
	ErrRange = errors.New("index out of range")
)

// ConfigError reports a configuration value rejected at construction.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErrorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RangeError reports a lookup outside [0, Limit).
type RangeError struct {
	Index int
	Limit int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: %d not in [0,%d]", ErrRange, e.Index, e.Limit-1)
}

func (e *RangeError) Unwrap() error { return ErrRange }
