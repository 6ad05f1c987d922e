package orch

import (
	"errors"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

var errInvalidPeer = errors.New("invalid peer user")

// HandleSignal is the inbound entry point for both channels. It may be
// called from any goroutine.
func (c *Controller) HandleSignal(from domain.UserID, sig domain.Signal) {
	if err := sig.Validate(); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("from", string(from)).Msg("dropping malformed signal")
		c.metrics.SignalReceived(string(sig.Type), false)
		return
	}
	c.post(func() {
		applied := c.applySignal(from, sig)
		c.metrics.SignalReceived(string(sig.Type), applied)
		log.Debug().
			Str("module", "orch").
			Str("type", string(sig.Type)).
			Str("call_id", string(sig.CallID)).
			Str("from", string(from)).
			Bool("applied", applied).
			Msg("signal received")
	})
}

func (c *Controller) applySignal(from domain.UserID, sig domain.Signal) bool {
	switch sig.Type {
	case domain.SignalInvite:
		return c.onInvite(from, sig)
	case domain.SignalAccept:
		return c.onAccept(from, sig)
	case domain.SignalReject:
		return c.onReject(sig)
	case domain.SignalEnd:
		return c.onEnd(sig)
	default:
		return false
	}
}

func (c *Controller) onInvite(from domain.UserID, sig domain.Signal) bool {
	sender := sig.FromUserID
	if sender == "" {
		sender = from
	}
	if sender == c.self || c.finished.has(sig.CallID) {
		return false
	}
	// Busy: the existing session is left untouched, nothing is queued.
	if !c.store.State().Idle() {
		return false
	}
	if !c.limiter.Allow(sender) {
		log.Warn().Str("module", "orch").Str("from", string(sender)).Msg("invite rate limited")
		return false
	}

	channel := sig.ChannelName
	if channel == "" {
		channel = domain.ChannelNameFor(sig.ChatID)
	}
	st := c.store.Update(func(cs *app.CallSession) {
		cs.CallID = sig.CallID
		cs.ChatID = sig.ChatID
		cs.ChannelName = channel
		cs.CallType = sig.CallType
		cs.IsCaller = false
		cs.PeerUserID = sender
		cs.State = domain.StateRinging
	})
	c.startExpiry(st.CallID)
	log.Info().
		Str("module", "orch").
		Str("call_id", string(st.CallID)).
		Str("from", string(sender)).
		Str("type", string(st.CallType)).
		Msg("incoming call")
	return true
}

func (c *Controller) onAccept(from domain.UserID, sig domain.Signal) bool {
	st := c.store.State()
	if st.CallID != sig.CallID || !st.IsCaller || st.State != domain.StateCalling {
		// A second accept for a live call lands here and changes nothing.
		return false
	}
	peer := sig.FromUserID
	if peer == "" {
		peer = from
	}
	if st.PeerUserID != "" && peer != "" && peer != st.PeerUserID {
		log.Warn().
			Str("module", "orch").
			Str("call_id", string(sig.CallID)).
			Str("from", string(peer)).
			Msg("accept from someone other than the callee, ignored")
		return false
	}
	c.cancelExpiry()

	started := st.StartedAt
	if started.IsZero() {
		if sig.StartedAt > 0 {
			started = time.UnixMilli(sig.StartedAt)
		} else {
			started = c.nowMillis()
		}
	}
	st = c.store.Update(func(cs *app.CallSession) {
		cs.State = domain.StateInCall
		cs.StartedAt = started
		if cs.PeerUserID == "" {
			cs.PeerUserID = peer
		}
		if cs.ChannelName == "" {
			cs.ChannelName = sig.ChannelName
		}
		if cs.ChatID == "" {
			cs.ChatID = sig.ChatID
		}
	})
	c.startJoin(st)
	log.Info().
		Str("module", "orch").
		Str("call_id", string(st.CallID)).
		Time("started_at", started).
		Msg("call accepted by peer")
	return true
}

func (c *Controller) onReject(sig domain.Signal) bool {
	st := c.store.State()
	if st.CallID != sig.CallID || !st.IsCaller || st.State != domain.StateCalling {
		return false
	}
	c.reject(st)
	log.Info().Str("module", "orch").Str("call_id", string(st.CallID)).Msg("call rejected by peer")
	return true
}

func (c *Controller) onEnd(sig domain.Signal) bool {
	st := c.store.State()
	if st.CallID != sig.CallID || st.Idle() {
		return false
	}
	c.teardown("remote_ended")
	return true
}
