package core

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
)

// SignalTransport is one signaling path to a remote user.
// Send is fire-and-forget from the caller's point of view: failures are
// reported but never retried by the dispatcher.
type SignalTransport interface {
	Name() string
	Send(ctx context.Context, to domain.UserID, sig domain.Signal) error
}

// SignalHandler receives inbound signals from either channel.
type SignalHandler func(from domain.UserID, sig domain.Signal)
