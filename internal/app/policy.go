package app

import (
	"errors"

	"github.com/dkeye/voicecall/internal/domain"
)

type CaptureAction int

const (
	UseTrack CaptureAction = iota
	ReceiveOnly
	AbortCall
)

func (a CaptureAction) String() string {
	switch a {
	case ReceiveOnly:
		return "receive_only"
	case AbortCall:
		return "abort"
	default:
		return "use_track"
	}
}

// CapturePolicy decides what a failed device acquisition means for the call.
type CapturePolicy interface {
	OnCaptureError(kind domain.MediaKind, err error) CaptureAction
}

// SimplePolicy aborts only when the user refused access. A busy or missing
// device leaves the call receive-only, which is what two clients on one
// machine end up with.
type SimplePolicy struct{}

func (SimplePolicy) OnCaptureError(_ domain.MediaKind, err error) CaptureAction {
	switch {
	case err == nil:
		return UseTrack
	case errors.Is(err, domain.ErrPermissionDenied):
		return AbortCall
	default:
		return ReceiveOnly
	}
}
