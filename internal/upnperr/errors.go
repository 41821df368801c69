// Package upnperr defines the error classes shared by the control point packages.
// Use errors.Is against the sentinels; concrete errors wrap them.
package upnperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConstruction marks a description document that is malformed or lacks
	// mandatory fields. The object it describes is not created.
	ErrConstruction = errors.New("upnp: construction failed")

	// ErrTransport marks a socket or HTTP failure.
	ErrTransport = errors.New("upnp: transport failure")

	// ErrProtocol marks a response that is missing or has unexpected SOAP or GENA fields.
	ErrProtocol = errors.New("upnp: protocol error")

	// ErrUnsupportedAction marks an optional SOAP action the service does not list in its SCPD.
	ErrUnsupportedAction = errors.New("upnp: unsupported action")
)

// UnsupportedActionError names the action a service's SCPD does not declare.
type UnsupportedActionError struct {
	ServiceType string
	Action      string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("upnp: action %q unsupported by service %s", e.Action, e.ServiceType)
}

func (e *UnsupportedActionError) Is(target error) bool {
	return target == ErrUnsupportedAction
}

// Transport wraps err as a transport failure of op.
func Transport(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// Protocol builds a protocol error for op.
func Protocol(op, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrProtocol, op, fmt.Sprintf(format, args...))
}

// Construction builds a construction error.
func Construction(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstruction, fmt.Sprintf(format, args...))
}
