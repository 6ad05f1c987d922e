package app

import (
	"maps"
	"time"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

// CallSession is the single active call as the UI sees it.
// A value returned by the store is a snapshot; its maps must not be mutated.
type CallSession struct {
	CallID      domain.CallID
	ChatID      domain.ChatID
	ChannelName domain.ChannelName
	CallType    domain.CallType
	IsCaller    bool
	PeerUserID  domain.UserID
	State       domain.CallState
	StartedAt   time.Time

	LocalUID    domain.ParticipantID
	MediaJoined bool
	ReceiveOnly bool

	LocalAudioTrack   core.LocalTrack
	LocalVideoTrack   core.LocalTrack
	RemoteAudioTracks map[domain.ParticipantID]core.RemoteTrack
	RemoteVideoTracks map[domain.ParticipantID]core.RemoteTrack

	IsMuted        bool
	IsCameraOff    bool
	IsSpeakerMuted bool
	IsUIMinimized  bool
}

func idleSession() CallSession {
	return CallSession{
		State:             domain.StateIdle,
		RemoteAudioTracks: make(map[domain.ParticipantID]core.RemoteTrack),
		RemoteVideoTracks: make(map[domain.ParticipantID]core.RemoteTrack),
	}
}

func (s CallSession) Idle() bool { return s.State == domain.StateIdle }

// Elapsed is the call duration measured from the shared time origin.
func (s CallSession) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() || now.Before(s.StartedAt) {
		return 0
	}
	return now.Sub(s.StartedAt)
}

func (s CallSession) RemoteTrackCount() int {
	return len(s.RemoteAudioTracks) + len(s.RemoteVideoTracks)
}

// LocalTracks returns the non-nil local tracks.
func (s CallSession) LocalTracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, 2)
	if s.LocalAudioTrack != nil {
		out = append(out, s.LocalAudioTrack)
	}
	if s.LocalVideoTrack != nil {
		out = append(out, s.LocalVideoTrack)
	}
	return out
}

func (s CallSession) clone() CallSession {
	out := s
	out.RemoteAudioTracks = maps.Clone(s.RemoteAudioTracks)
	out.RemoteVideoTracks = maps.Clone(s.RemoteVideoTracks)
	if out.RemoteAudioTracks == nil {
		out.RemoteAudioTracks = make(map[domain.ParticipantID]core.RemoteTrack)
	}
	if out.RemoteVideoTracks == nil {
		out.RemoteVideoTracks = make(map[domain.ParticipantID]core.RemoteTrack)
	}
	return out
}
