package core

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
)

// LocalTrack is a locally captured audio or video track.
// Stop halts capture, Close releases the device.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
	Close() error
}

// RemoteTrack is a subscribed track of a remote participant.
type RemoteTrack interface {
	ID() string
	Kind() domain.MediaKind
	Participant() domain.ParticipantID
	// Play starts rendering the track; it is idempotent.
	Play() error
	Stop()
	// SetVolume takes 0..100; 0 silences playback.
	SetVolume(volume int)
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// RoomEvents are the room-level listeners a join registers.
type RoomEvents struct {
	OnUserPublished   func(uid domain.ParticipantID, kind domain.MediaKind)
	OnUserUnpublished func(uid domain.ParticipantID, kind domain.MediaKind)
	OnUserLeft        func(uid domain.ParticipantID)
}

type JoinParams struct {
	AppID   string
	Channel domain.ChannelName
	Token   string
	// UID zero lets the room assign one.
	UID domain.ParticipantID
}

// RoomConnection is the media-transport client object. The process owns one
// at a time; it is never shared between two joins.
type RoomConnection interface {
	State() ConnectionState
	SetEvents(ev RoomEvents)
	Join(ctx context.Context, p JoinParams) (domain.ParticipantID, error)
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(ctx context.Context, tracks ...LocalTrack) error
	Subscribe(ctx context.Context, uid domain.ParticipantID, kind domain.MediaKind) (RemoteTrack, error)
	Leave(ctx context.Context) error
}

// RoomFactory creates a fresh room connection, used when the previous one
// could not be brought back to a clean state.
type RoomFactory interface {
	NewRoom() RoomConnection
}

// Capturer opens capture devices. Errors must be classifiable with
// domain.KindOf (permission denied vs device busy).
type Capturer interface {
	Microphone(ctx context.Context) (LocalTrack, error)
	Camera(ctx context.Context) (LocalTrack, error)
}
