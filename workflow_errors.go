package main

import (
	"errors"
	"fmt"
)

// ========================================
// Workflow error taxonomy
// ========================================
// Config errors are never retried; device errors are retried up to the
// node's retryCount; an abort is not an error at all. Node-local failures
// are translated to a status + log entry inside dispatch and never
// propagate to the caller.

// ErrAborted signals a cooperative stop request. The in-flight attempt is
// allowed to finish before the runner observes it.
var ErrAborted = errors.New("workflow aborted")

// ErrAlreadyRunning rejects a second start while a run is in flight.
var ErrAlreadyRunning = errors.New("workflow execution already in progress")

// ConfigError marks bad or missing node configuration, detected before any
// device I/O.
type ConfigError struct {
	NodeID string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in node %s: %s", e.NodeID, e.Reason)
}

// DeviceError wraps failures from the device bridge layer (command failures,
// disconnects, elements not found within their timeout).
type DeviceError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error in node %s (%s): %v", e.NodeID, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsRetryable reports whether a node failure should consume a retry attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return false
	}
	if errors.Is(err, ErrAborted) {
		return false
	}
	return true
}
