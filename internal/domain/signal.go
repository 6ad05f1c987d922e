package domain

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

type SignalType string

const (
	SignalInvite SignalType = "call-invite"
	SignalAccept SignalType = "call-accept"
	SignalReject SignalType = "call-reject"
	SignalEnd    SignalType = "call-end"
)

// Signal is the payload delivered identically over the peer and the
// broadcast channel. StartedAt is unix milliseconds.
type Signal struct {
	Type        SignalType  `json:"type" validate:"required,oneof=call-invite call-accept call-reject call-end"`
	CallID      CallID      `json:"callId" validate:"required"`
	ChatID      ChatID      `json:"chatId,omitempty" validate:"required_if=Type call-invite"`
	ChannelName ChannelName `json:"channelName,omitempty" validate:"required_if=Type call-invite"`
	CallType    CallType    `json:"callType,omitempty" validate:"omitempty,oneof=audio video"`
	FromUserID  UserID      `json:"fromUserId,omitempty" validate:"required_if=Type call-invite"`
	ToUserID    UserID      `json:"toUserId,omitempty"`
	StartedAt   int64       `json:"startedAt,omitempty" validate:"required_if=Type call-accept,gte=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func signalValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate rejects payloads that cannot drive the state machine.
func (s Signal) Validate() error {
	if err := signalValidator().Struct(s); err != nil {
		return fmt.Errorf("invalid %s signal: %w", s.Type, err)
	}
	if s.Type == SignalInvite && s.CallType == "" {
		return fmt.Errorf("invalid %s signal: missing call type", s.Type)
	}
	return nil
}

func InviteSignal(id CallID, chat ChatID, channel ChannelName, typ CallType, from UserID) Signal {
	return Signal{
		Type:        SignalInvite,
		CallID:      id,
		ChatID:      chat,
		ChannelName: channel,
		CallType:    typ,
		FromUserID:  from,
	}
}

func AcceptSignal(id CallID, chat ChatID, channel ChannelName, typ CallType, from, to UserID, startedAt int64) Signal {
	return Signal{
		Type:        SignalAccept,
		CallID:      id,
		ChatID:      chat,
		ChannelName: channel,
		CallType:    typ,
		FromUserID:  from,
		ToUserID:    to,
		StartedAt:   startedAt,
	}
}

func RejectSignal(id CallID) Signal { return Signal{Type: SignalReject, CallID: id} }

func EndSignal(id CallID) Signal { return Signal{Type: SignalEnd, CallID: id} }
