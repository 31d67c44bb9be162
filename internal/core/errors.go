package core

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("...: %w", err)
// and test with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrActionTerminal      = errors.New("action already resolved")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
