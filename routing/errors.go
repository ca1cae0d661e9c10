package routing

import (
	"errors"
	"fmt"
)

type invalidDefinitionError string

func (e invalidDefinitionError) Error() string { return string(e) }
func (e invalidDefinitionError) Code() string  { return string(e) }

// The reasons of the build errors. They can be checked with errors.Is.
var (
	ErrInvalidConfig    = invalidDefinitionError("invalid_config")
	ErrMissingHandler   = invalidDefinitionError("missing_handler")
	ErrInvalidCondition = invalidDefinitionError("invalid_condition")
	ErrInvalidReference = invalidDefinitionError("invalid_reference")
	ErrInvalidMonitor   = invalidDefinitionError("invalid_monitor")
)

var (
	// ErrRouteNotFound is returned by the management operations for
	// unknown route ids.
	ErrRouteNotFound = errors.New("route not found")

	// ErrRouteConflict is returned when a route id exists already, or
	// when the name of a route is used by another active route.
	ErrRouteConflict = errors.New("route conflict")

	// ErrRouterStopped is returned by the management operations after
	// the router was stopped.
	ErrRouterStopped = errors.New("router stopped")

	errRouteDestroyed = errors.New("route destroyed")
)

// BuildError is returned when a route configuration cannot be turned into
// a route.
type BuildError struct {
	RouteID string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build route %s: %v", e.RouteID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Reason returns the reason code of the error, or "other".
func (e *BuildError) Reason() string {
	var defErr invalidDefinitionError
	if errors.As(e.Err, &defErr) {
		return defErr.Code()
	}

	return "other"
}

func wrapInvalidDefinitionReason(reason invalidDefinitionError, err error) error {
	if err == nil {
		return reason
	}

	return fmt.Errorf("%w: %w", reason, err)
}
