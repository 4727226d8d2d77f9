package pagerender

import (
	"errors"
	"fmt"
	"time"
)

// Error values.
var (
	// ErrConversionTimeout is returned when the shared countdown timer for a
	// conversion expires during any blocking phase.
	ErrConversionTimeout = errors.New("conversion timeout reached")

	// ErrConnectionClosed is returned when the websocket connection to the
	// browser closes, or the receive loop faults, while a command or event
	// wait is outstanding.
	ErrConnectionClosed = errors.New("connection to browser closed")

	// ErrSubscriptionExists is returned when registering an event wait for a
	// method that already has an active wait. Subscriptions are never
	// silently overwritten.
	ErrSubscriptionExists = errors.New("event subscription already active")

	// ErrNoPageTarget is returned when the browser exposes no page target to
	// attach to.
	ErrNoPageTarget = errors.New("no page target available")

	// ErrDisposed is returned when a converter or launcher is used after
	// Dispose.
	ErrDisposed = errors.New("disposed")
)

// ProcessError reports a browser process failure: it failed to start, exited
// before signaling readiness, or could not be terminated.
type ProcessError struct {
	Op  string // "start", "ready", "kill"
	Err error
}

// Error satisfies the error interface.
func (e *ProcessError) Error() string {
	return fmt.Sprintf("browser process %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessError) Unwrap() error { return e.Err }

// TimeoutError reports that a single protocol or discovery wait exceeded its
// own bound. Expiry of the shared countdown timer is reported as
// ErrConversionTimeout instead.
type TimeoutError struct {
	What string        // the command, event, or resource waited for
	Wait time.Duration // the bound that elapsed
}

// Error satisfies the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for %s after %v", e.What, e.Wait)
}

// ConfigurationError reports an invalid converter or launcher setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error satisfies the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
