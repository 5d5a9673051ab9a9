package notify

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrDispatcherClosed indicates a batch was published after Close.
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrSinkRequired indicates a dispatcher or fan-out was built without a sink.
	ErrSinkRequired = errors.New("sink is required")
)
