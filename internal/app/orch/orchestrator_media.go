package orch

import (
	"context"
	"errors"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/media"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

// startJoin launches the media join for st in the background. One join per
// call id; the result is reconciled on the loop.
func (c *Controller) startJoin(st app.CallSession) {
	if c.joinCallID == st.CallID {
		return
	}
	c.cancelJoin()
	ctx, cancel := context.WithCancel(c.runCtx)
	c.joinCancel = cancel
	c.joinCallID = st.CallID

	go func() {
		res, err := c.joinMedia(ctx, st)
		c.post(func() { c.onJoined(ctx, st.CallID, res, err) })
	}()
}

func (c *Controller) cancelJoin() {
	if c.joinCancel != nil {
		c.joinCancel()
		c.joinCancel = nil
	}
	c.joinCallID = ""
}

func (c *Controller) joinMedia(ctx context.Context, st app.CallSession) (media.JoinResult, error) {
	req := media.JoinRequest{
		Channel:   st.ChannelName,
		Listeners: c.listeners(st.CallID),
	}
	if c.backend != nil {
		creds, err := c.backend.JoinCall(ctx, st.CallID)
		if err != nil {
			// Join anyway; the room decides whether it needs the token.
			log.Warn().Err(err).
				Str("module", "orch").
				Str("call_id", string(st.CallID)).
				Msg("backend join-call failed")
		} else {
			req.Token = creds.Token
			req.UID = creds.UID
			if creds.ChannelName != "" {
				req.Channel = creds.ChannelName
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return media.JoinResult{NoMedia: true}, err
	}
	if st.CallType == domain.CallVideo {
		return c.media.JoinVideo(ctx, req)
	}
	return c.media.JoinAudio(ctx, req)
}

// onJoined merges a join result into the session unless the session moved
// on while the join was running; stale tracks are released right away.
func (c *Controller) onJoined(ctx context.Context, id domain.CallID, res media.JoinResult, err error) {
	st := c.store.State()
	if ctx.Err() != nil || st.CallID != id || st.State != domain.StateInCall {
		for _, t := range res.Tracks() {
			if rerr := c.media.Release(t); rerr != nil {
				log.Debug().Err(rerr).Str("module", "orch").Msg("release of stale track failed")
			}
		}
		log.Debug().Str("module", "orch").Str("call_id", string(id)).Msg("discarding stale join result")
		return
	}

	if err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			log.Warn().Err(err).Str("module", "orch").Str("call_id", string(id)).Msg("capture permission denied, ending call")
			c.raise(err)
			c.end("permission_denied")
			return
		}
		log.Warn().Err(err).Str("module", "orch").Str("call_id", string(id)).Msg("media join failed, staying in call without media")
	}

	st = c.store.Update(func(cs *app.CallSession) {
		cs.LocalAudioTrack = res.Audio
		cs.LocalVideoTrack = res.Video
		cs.LocalUID = res.UID
		cs.MediaJoined = err == nil && !res.NoMedia
		cs.ReceiveOnly = res.Audio == nil && res.Video == nil
	})
	if st.LocalAudioTrack != nil && st.IsMuted {
		st.LocalAudioTrack.SetEnabled(false)
	}
	if st.LocalVideoTrack != nil && st.IsCameraOff {
		st.LocalVideoTrack.SetEnabled(false)
	}
}

// listeners bind room events to call id so events of an old room never
// touch a newer session.
func (c *Controller) listeners(id domain.CallID) media.Listeners {
	return media.Listeners{
		OnRemoteAudio: func(t core.RemoteTrack) {
			c.post(func() { c.addRemote(id, t) })
		},
		OnRemoteVideo: func(t core.RemoteTrack) {
			c.post(func() { c.addRemote(id, t) })
		},
		OnRemoteUnpublished: func(uid domain.ParticipantID, kind domain.MediaKind) {
			c.post(func() { c.removeRemote(id, uid, kind) })
		},
		OnUserLeft: func(uid domain.ParticipantID) {
			c.post(func() { c.onUserLeft(id, uid) })
		},
	}
}

func (c *Controller) addRemote(id domain.CallID, t core.RemoteTrack) {
	st := c.store.State()
	if st.CallID != id || st.Idle() {
		t.Stop()
		return
	}
	uid := t.Participant()
	kind := t.Kind()
	if kind == domain.MediaAudio {
		t.SetVolume(volume(st.IsSpeakerMuted))
	}

	var replaced core.RemoteTrack
	c.store.Update(func(cs *app.CallSession) {
		tracks := cs.RemoteAudioTracks
		if kind == domain.MediaVideo {
			tracks = cs.RemoteVideoTracks
		}
		if old, ok := tracks[uid]; ok && old != t {
			replaced = old
		}
		tracks[uid] = t
	})
	if replaced != nil {
		replaced.Stop()
	}
	log.Debug().
		Str("module", "orch").
		Str("uid", uid.String()).
		Str("kind", string(kind)).
		Msg("remote track added")
}

func (c *Controller) removeRemote(id domain.CallID, uid domain.ParticipantID, kinds ...domain.MediaKind) {
	st := c.store.State()
	if st.CallID != id || st.Idle() {
		return
	}
	var removed []core.RemoteTrack
	c.store.Update(func(cs *app.CallSession) {
		for _, kind := range kinds {
			tracks := cs.RemoteAudioTracks
			if kind == domain.MediaVideo {
				tracks = cs.RemoteVideoTracks
			}
			if t, ok := tracks[uid]; ok {
				removed = append(removed, t)
				delete(tracks, uid)
			}
		}
	})
	for _, t := range removed {
		t.Stop()
	}
}

func (c *Controller) onUserLeft(id domain.CallID, uid domain.ParticipantID) {
	c.removeRemote(id, uid, domain.MediaAudio, domain.MediaVideo)
	st := c.store.State()
	if st.CallID != id || st.State != domain.StateInCall {
		return
	}
	if st.RemoteTrackCount() == 0 {
		log.Info().
			Str("module", "orch").
			Str("call_id", string(id)).
			Str("uid", uid.String()).
			Msg("last remote participant left, ending call")
		c.end("remote_left")
	}
}
