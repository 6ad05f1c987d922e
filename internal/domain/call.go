package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type CallID string

// NewCallID is used when the backend could not allocate an id for us.
func NewCallID() CallID {
	return CallID(uuid.NewString())
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func ParseCallType(s string) (CallType, error) {
	switch CallType(s) {
	case CallAudio, CallVideo:
		return CallType(s), nil
	default:
		return "", fmt.Errorf("unknown call type %q", s)
	}
}

type CallState string

const (
	StateIdle     CallState = "idle"
	StateCalling  CallState = "calling"
	StateRinging  CallState = "ringing"
	StateInCall   CallState = "in-call"
	StateRejected CallState = "rejected"
)

// Pending reports whether the call is still waiting for an answer and
// therefore governed by the expiry timer.
func (s CallState) Pending() bool {
	return s == StateCalling || s == StateRinging
}
