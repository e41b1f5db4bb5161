package supervisor

import (
	"fmt"
	"time"
)

// AlreadyRunningError indicates a double-start attempt on a route whose
// backend is still tracked as running. The existing process is left alone.
type AlreadyRunningError struct {
	Route string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("backend already running for route %q", e.Route)
}

// StartupError indicates a backend exited before it was confirmed alive, or
// could not be launched at all. Stderr carries whatever the process wrote
// before dying.
type StartupError struct {
	Route  string
	Stderr string
	Err    error
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("backend for route %q failed to start", e.Route)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }

// StartupTimeoutError indicates the confirmation deadline elapsed without
// the backend either dying or being observed alive. Distinct from
// StartupError so diagnostics can tell the two apart.
type StartupTimeoutError struct {
	Route   string
	Timeout time.Duration
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("backend for route %q did not start within %s", e.Route, e.Timeout)
}
