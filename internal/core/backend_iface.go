package core

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
)

type CallAllocation struct {
	CallID      domain.CallID
	ChannelName domain.ChannelName
}

type JoinCredentials struct {
	Token       string
	ChannelName domain.ChannelName
	UID         domain.ParticipantID
	ChatID      domain.ChatID
}

// Backend is the chat server REST surface the call feature consumes.
type Backend interface {
	CreateCall(ctx context.Context, chatID domain.ChatID, typ domain.CallType) (CallAllocation, error)
	JoinCall(ctx context.Context, callID domain.CallID) (JoinCredentials, error)
	EndCall(ctx context.Context, callID domain.CallID) error
	FetchRelayToken(ctx context.Context) (string, error)
}

// TokenFetcher returns a fresh relay token for the peer channel.
type TokenFetcher func(ctx context.Context) (string, error)
