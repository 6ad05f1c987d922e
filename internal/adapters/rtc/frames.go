package rtc

import (
	"errors"

	"github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type envelope struct {
	Type string `json:"type"`
}

type roomStatePayload struct {
	Type string `json:"type"`
	UID  uint32 `json:"uid"`
}

type errorPayload struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidatePayload struct {
	Type          string `json:"type"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

type memberPayload struct {
	Type string           `json:"type"`
	UID  uint32           `json:"uid"`
	Kind domain.MediaKind `json:"kind,omitempty"`
}

func (r *Room) onFrame(data signal.Frame) {
	var env envelope
	if err := signal.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("bad sfu frame")
		return
	}
	switch env.Type {
	case "room_state":
		var p roomStatePayload
		if err := signal.Unmarshal(data, &p); err != nil {
			r.replyJoin(joinReply{err: err})
			return
		}
		r.replyJoin(joinReply{uid: domain.ParticipantID(p.UID)})
	case "error":
		var p errorPayload
		_ = signal.Unmarshal(data, &p)
		if !r.replyJoin(joinReply{err: errors.New("sfu: " + p.Error)}) {
			log.Warn().Str("module", "rtc").Str("error", p.Error).Msg("sfu error")
		}
	case "answer":
		r.handleAnswer(data)
	case "offer":
		r.handleOffer(data)
	case "candidate":
		r.handleCandidate(data)
	case "track_removed", "unpublished":
		var p memberPayload
		if err := signal.Unmarshal(data, &p); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad track_removed payload")
			return
		}
		r.handleUnpublished(domain.ParticipantID(p.UID), p.Kind)
	case "member_left":
		var p memberPayload
		if err := signal.Unmarshal(data, &p); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad member_left payload")
			return
		}
		r.handleMemberLeft(domain.ParticipantID(p.UID))
	case "left", "pong":
	default:
		log.Warn().Str("module", "rtc").Str("type", env.Type).Msg("unknown sfu frame")
	}
}

// replyJoin hands the outcome to a pending Join. It reports false when no
// join is waiting.
func (r *Room) replyJoin(reply joinReply) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != core.Connecting || r.joined == nil {
		return false
	}
	select {
	case r.joined <- reply:
		return true
	default:
		return false
	}
}

func (r *Room) handleAnswer(data []byte) {
	var p sdpPayload
	if err := signal.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("bad answer payload")
		return
	}
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("apply answer")
	}
}

func (r *Room) handleOffer(data []byte) {
	var p sdpPayload
	if err := signal.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("bad offer payload")
		return
	}
	r.mu.Lock()
	pc, conn := r.pc, r.conn
	r.mu.Unlock()
	if pc == nil || conn == nil {
		return
	}
	answer, err := pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("apply offer")
		return
	}
	if err := conn.SendJSON(sdpPayload{Type: "answer", SDP: answer.SDP}); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("answer not sent")
	}
}

func (r *Room) handleCandidate(data []byte) {
	var p candidatePayload
	if err := signal.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("bad candidate payload")
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc == nil {
		log.Warn().Str("module", "rtc").Msg("candidate: no peer connection")
		return
	}
	if err := pc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("add ice candidate")
	}
}

func (r *Room) handleUnpublished(uid domain.ParticipantID, kind domain.MediaKind) {
	r.mu.Lock()
	delete(r.remotes, remoteKey{uid, kind})
	fn := r.events.OnUserUnpublished
	r.mu.Unlock()
	if fn != nil {
		fn(uid, kind)
	}
}

func (r *Room) handleMemberLeft(uid domain.ParticipantID) {
	r.mu.Lock()
	delete(r.remotes, remoteKey{uid, domain.MediaAudio})
	delete(r.remotes, remoteKey{uid, domain.MediaVideo})
	fn := r.events.OnUserLeft
	r.mu.Unlock()
	if fn != nil {
		fn(uid)
	}
}
