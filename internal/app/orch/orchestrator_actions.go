package orch

import (
	"context"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

func (c *Controller) requireIdle() error {
	if st := c.store.State(); !st.Idle() {
		return domain.NewError(domain.KindInvalidState, "start call", nil)
	}
	return nil
}

// StartCall invites peer to a call in chat and returns the new call id.
func (c *Controller) StartCall(ctx context.Context, peer domain.UserID, chat domain.ChatID, typ domain.CallType) (domain.CallID, error) {
	if peer == "" || peer == c.self {
		return "", domain.NewError(domain.KindInvalidState, "start call", errInvalidPeer)
	}
	if err := c.exec(ctx, c.requireIdle); err != nil {
		return "", err
	}

	alloc := c.allocate(ctx, chat, typ)

	err := c.exec(ctx, func() error {
		if err := c.requireIdle(); err != nil {
			return err
		}
		st := c.store.Update(func(cs *app.CallSession) {
			cs.CallID = alloc.CallID
			cs.ChatID = chat
			cs.ChannelName = alloc.ChannelName
			cs.CallType = typ
			cs.IsCaller = true
			cs.PeerUserID = peer
			cs.State = domain.StateCalling
		})
		c.startExpiry(st.CallID)
		c.signal(peer, domain.InviteSignal(st.CallID, st.ChatID, st.ChannelName, st.CallType, c.self))
		log.Info().
			Str("module", "orch").
			Str("call_id", string(st.CallID)).
			Str("peer", string(peer)).
			Str("type", string(typ)).
			Msg("calling")
		return nil
	})
	if err != nil {
		c.notifyBackendEnd(alloc.CallID)
		return "", err
	}
	return alloc.CallID, nil
}

// allocate asks the backend for a call id; a local id is used when the
// backend is absent or failing.
func (c *Controller) allocate(ctx context.Context, chat domain.ChatID, typ domain.CallType) core.CallAllocation {
	fallback := core.CallAllocation{
		CallID:      domain.NewCallID(),
		ChannelName: domain.ChannelNameFor(chat),
	}
	if c.backend == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout())
	defer cancel()
	alloc, err := c.backend.CreateCall(ctx, chat, typ)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("chat_id", string(chat)).Msg("backend create-call failed, using local id")
		return fallback
	}
	if alloc.CallID == "" {
		alloc.CallID = fallback.CallID
	}
	if alloc.ChannelName == "" {
		alloc.ChannelName = fallback.ChannelName
	}
	return alloc
}

// Accept answers the ringing call. The session is in-call right away; the
// media join completes in the background.
func (c *Controller) Accept(ctx context.Context) error {
	return c.exec(ctx, func() error {
		st := c.store.State()
		if st.State != domain.StateRinging {
			return domain.NewError(domain.KindInvalidState, "accept", nil)
		}
		c.cancelExpiry()

		started := c.nowMillis()
		c.store.Update(func(cs *app.CallSession) {
			cs.State = domain.StateCalling
			cs.StartedAt = started
		})
		st = c.store.Update(func(cs *app.CallSession) { cs.State = domain.StateInCall })

		c.signal(st.PeerUserID, domain.AcceptSignal(
			st.CallID, st.ChatID, st.ChannelName, st.CallType,
			c.self, st.PeerUserID, started.UnixMilli(),
		))
		c.startJoin(st)
		log.Info().Str("module", "orch").Str("call_id", string(st.CallID)).Msg("call accepted")
		return nil
	})
}

// Reject declines the ringing call.
func (c *Controller) Reject(ctx context.Context) error {
	return c.exec(ctx, func() error {
		st := c.store.State()
		if st.State != domain.StateRinging {
			return domain.NewError(domain.KindInvalidState, "reject", nil)
		}
		c.cancelExpiry()
		c.signal(st.PeerUserID, domain.RejectSignal(st.CallID))
		c.reject(st)
		log.Info().Str("module", "orch").Str("call_id", string(st.CallID)).Msg("call rejected")
		return nil
	})
}

// End hangs up whatever call is active. Ending with no call is a no-op.
func (c *Controller) End(ctx context.Context) error {
	return c.exec(ctx, func() error {
		c.end("ended")
		return nil
	})
}

// ToggleMute flips the microphone and returns the new muted flag.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := c.exec(ctx, func() error {
		st := c.store.Update(func(cs *app.CallSession) { cs.IsMuted = !cs.IsMuted })
		if st.LocalAudioTrack != nil {
			st.LocalAudioTrack.SetEnabled(!st.IsMuted)
		}
		muted = st.IsMuted
		return nil
	})
	return muted, err
}

// ToggleCamera flips the camera and returns the new camera-off flag.
func (c *Controller) ToggleCamera(ctx context.Context) (bool, error) {
	var off bool
	err := c.exec(ctx, func() error {
		st := c.store.Update(func(cs *app.CallSession) { cs.IsCameraOff = !cs.IsCameraOff })
		if st.LocalVideoTrack != nil {
			st.LocalVideoTrack.SetEnabled(!st.IsCameraOff)
		}
		off = st.IsCameraOff
		return nil
	})
	return off, err
}

// ToggleSpeaker silences or restores every remote audio track.
func (c *Controller) ToggleSpeaker(ctx context.Context) (bool, error) {
	var muted bool
	err := c.exec(ctx, func() error {
		st := c.store.Update(func(cs *app.CallSession) { cs.IsSpeakerMuted = !cs.IsSpeakerMuted })
		for _, t := range st.RemoteAudioTracks {
			t.SetVolume(volume(st.IsSpeakerMuted))
		}
		muted = st.IsSpeakerMuted
		return nil
	})
	return muted, err
}

func (c *Controller) SetMinimized(ctx context.Context, minimized bool) error {
	return c.exec(ctx, func() error {
		c.store.Update(func(cs *app.CallSession) { cs.IsUIMinimized = minimized })
		return nil
	})
}

func volume(muted bool) int {
	if muted {
		return 0
	}
	return 100
}
