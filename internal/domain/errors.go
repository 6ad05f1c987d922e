package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the call feature.
type ErrorKind string

const (
	KindSignalingUnavailable ErrorKind = "signaling_unavailable"
	KindPermissionDenied     ErrorKind = "permission_denied"
	KindDeviceBusy           ErrorKind = "device_busy"
	KindTransportRace        ErrorKind = "transport_race"
	KindBackendFailure       ErrorKind = "backend_failure"
	KindInvalidState         ErrorKind = "invalid_state"
)

var (
	ErrPeerUnavailable  = &CallError{Kind: KindSignalingUnavailable, Op: "peer channel"}
	ErrPermissionDenied = &CallError{Kind: KindPermissionDenied, Op: "capture"}
	ErrDeviceBusy       = &CallError{Kind: KindDeviceBusy, Op: "capture"}
	ErrJoinBusy         = &CallError{Kind: KindTransportRace, Op: "join"}
	ErrInvalidState     = &CallError{Kind: KindInvalidState, Op: "transition"}
)

// CallError carries the kind of a failure plus the operation that hit it.
type CallError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches any CallError of the same kind, so wrapped causes still compare
// equal to the package sentinels.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewError(kind ErrorKind, op string, err error) *CallError {
	return &CallError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" if it carries none.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
