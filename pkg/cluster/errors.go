package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidInterval = errors.New("subscription refresh interval must be positive")
)

// Registry errors
var (
	ErrRegistryUnavailable = errors.New("service registry unavailable")
)

// Lifecycle errors
var (
	ErrAlreadyRunning = errors.New("subscription manager already running")
	ErrNotRunning     = errors.New("subscription manager not running")
)
