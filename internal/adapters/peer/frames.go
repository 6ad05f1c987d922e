package peer

import (
	"github.com/dkeye/voicecall/internal/domain"
)

// Gateway frame types.
const (
	frameLogin           = "login"
	frameLoginOK         = "login_ok"
	frameLoginError      = "login_error"
	frameMessage         = "message"
	frameMessageAck      = "message_ack"
	frameRenewToken      = "renew_token"
	frameTokenWillExpire = "token_will_expire"
	frameTokenExpired    = "token_expired"
	frameLogout          = "logout"
)

type frame struct {
	Type    string         `json:"type"`
	AppID   string         `json:"app_id,omitempty"`
	UID     domain.UserID  `json:"uid,omitempty"`
	Token   string         `json:"token,omitempty"`
	ID      string         `json:"id,omitempty"`
	To      domain.UserID  `json:"to,omitempty"`
	From    domain.UserID  `json:"from,omitempty"`
	Payload *domain.Signal `json:"payload,omitempty"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
}
