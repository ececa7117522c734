package config

import "errors"

// Sentinel errors for internal use within the config package.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)
