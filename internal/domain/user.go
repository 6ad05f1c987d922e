// Package domain contains call entities without transport logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen = 64
	MaxChatIDLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrChatIDEmpty   = errors.New("chat id empty")
	ErrChatIDTooLong = errors.New("chat id too long")
)

// UserID addresses a user on both signaling channels.
type UserID string

// ChatID identifies the conversation a call belongs to.
type ChatID string

func NewUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

func NewChatID(raw string) (ChatID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrChatIDEmpty
	}
	if len(raw) > MaxChatIDLen {
		return "", ErrChatIDTooLong
	}
	return ChatID(raw), nil
}
