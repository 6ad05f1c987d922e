// Package rtc is the media room transport: a pion peer connection per room,
// negotiated over the SFU signaling websocket.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type RoomConfig struct {
	URL        string
	ICEServers []string
	// RecordDir keeps received media as ogg/ivf files; empty discards it.
	RecordDir  string
	PingPeriod time.Duration
}

// Publisher is a local track that can be sent over a peer connection.
type Publisher interface {
	TrackLocal() webrtc.TrackLocal
}

// SenderBinder is told which sender carries a published track, so muting
// can swap the track out of it.
type SenderBinder interface {
	BindSender(sender *webrtc.RTPSender)
}

type remoteKey struct {
	uid  domain.ParticipantID
	kind domain.MediaKind
}

type joinReply struct {
	uid domain.ParticipantID
	err error
}

// Room implements core.RoomConnection against the SFU.
type Room struct {
	cfg RoomConfig
	api *webrtc.API

	mu      sync.Mutex
	state   core.ConnectionState
	events  core.RoomEvents
	channel domain.ChannelName
	conn    *signal.Conn
	pc      *Connection
	cancel  context.CancelFunc
	joined  chan joinReply
	remotes map[remoteKey]*webrtc.TrackRemote
	playing []*RemoteTrack
}

func NewRoom(cfg RoomConfig, api *webrtc.API) *Room {
	return &Room{
		cfg:     cfg,
		api:     api,
		remotes: make(map[remoteKey]*webrtc.TrackRemote),
	}
}

func (r *Room) State() core.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) setState(s core.ConnectionState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Room) SetEvents(ev core.RoomEvents) {
	r.mu.Lock()
	r.events = ev
	r.mu.Unlock()
}

func (r *Room) Join(ctx context.Context, p core.JoinParams) (domain.ParticipantID, error) {
	r.mu.Lock()
	if r.state != core.Disconnected {
		st := r.state
		r.mu.Unlock()
		return 0, fmt.Errorf("join %s: room is %s", p.Channel, st)
	}
	r.state = core.Connecting
	r.channel = p.Channel
	r.joined = make(chan joinReply, 1)
	joined := r.joined
	r.mu.Unlock()

	logger := log.With().Str("module", "rtc").Str("channel", string(p.Channel)).Logger()

	conn, err := signal.Dial(ctx, r.cfg.URL, signal.Options{
		PingPeriod: r.cfg.PingPeriod,
		Module:     "rtc.ws",
	})
	if err != nil {
		r.setState(core.Disconnected)
		return 0, fmt.Errorf("dial sfu: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.conn = conn
	r.cancel = cancel
	r.mu.Unlock()
	conn.Start(runCtx, r.onFrame)
	go r.watch(conn)

	if err := conn.SendJSON(map[string]any{
		"type":   "join",
		"app_id": p.AppID,
		"room":   string(p.Channel),
		"token":  p.Token,
		"uid":    uint32(p.UID),
	}); err != nil {
		r.close()
		return 0, err
	}

	var uid domain.ParticipantID
	select {
	case reply := <-joined:
		if reply.err != nil {
			r.close()
			return 0, reply.err
		}
		uid = reply.uid
	case <-conn.Done():
		r.close()
		return 0, fmt.Errorf("join %s: %w", p.Channel, signal.ErrClosed)
	case <-ctx.Done():
		r.close()
		return 0, ctx.Err()
	}

	pc, err := NewConnection(r.api, Configuration(r.cfg.ICEServers), string(p.Channel))
	if err != nil {
		r.close()
		return 0, err
	}
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) { r.sendCandidate(conn, ci) })
	pc.OnTrack(r.onTrack)
	pc.OnClosed(func() { logger.Warn().Msg("peer connection failed") })
	if err := pc.Start(runCtx); err != nil {
		pc.Close()
		r.close()
		return 0, err
	}
	if err := pc.ReceiveOnly(); err != nil {
		pc.Close()
		r.close()
		return 0, err
	}

	r.mu.Lock()
	if r.conn != conn || ctx.Err() != nil {
		// Left or cancelled while the join was in flight.
		r.mu.Unlock()
		pc.Close()
		r.close()
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("join %s: %w", p.Channel, signal.ErrClosed)
	}
	r.pc = pc
	r.state = core.Connected
	r.mu.Unlock()

	if err := r.negotiate(); err != nil {
		r.close()
		return 0, err
	}
	logger.Info().Str("uid", uid.String()).Msg("joined")
	return uid, nil
}

func (r *Room) Publish(_ context.Context, tracks ...core.LocalTrack) error {
	pc, err := r.connected()
	if err != nil {
		return err
	}
	for _, t := range tracks {
		p, ok := t.(Publisher)
		if !ok {
			return fmt.Errorf("track %s cannot be published", t.ID())
		}
		sender, err := pc.AddLocalTrack(p.TrackLocal())
		if err != nil {
			return err
		}
		if b, ok := t.(SenderBinder); ok {
			b.BindSender(sender)
		}
	}
	return r.negotiate()
}

func (r *Room) Unpublish(_ context.Context, tracks ...core.LocalTrack) error {
	pc, err := r.connected()
	if err != nil {
		return err
	}
	var errs []error
	for _, t := range tracks {
		id := t.ID()
		if p, ok := t.(Publisher); ok {
			id = p.TrackLocal().ID()
		}
		errs = append(errs, pc.RemoveLocalTrack(id))
	}
	errs = append(errs, r.negotiate())
	return errors.Join(errs...)
}

func (r *Room) Subscribe(_ context.Context, uid domain.ParticipantID, kind domain.MediaKind) (core.RemoteTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pc == nil {
		return nil, errors.New("subscribe: not joined")
	}
	src, ok := r.remotes[remoteKey{uid, kind}]
	if !ok {
		return nil, fmt.Errorf("subscribe: %s has no %s track", uid, kind)
	}
	sink, err := NewSink(r.cfg.RecordDir, uid, kind)
	if err != nil {
		return nil, err
	}
	rt := newRemoteTrack(src.ID(), uid, kind, src, r.pc, sink)
	r.playing = append(r.playing, rt)
	return rt, nil
}

// Leave tells the SFU and closes everything the join opened.
func (r *Room) Leave(_ context.Context) error {
	r.mu.Lock()
	if r.state == core.Disconnected {
		r.mu.Unlock()
		return nil
	}
	r.state = core.Disconnecting
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		if err := conn.SendJSON(map[string]string{"type": "leave"}); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Msg("leave frame not sent")
		}
	}
	r.close()
	return nil
}

func (r *Room) connected() (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != core.Connected || r.pc == nil {
		return nil, fmt.Errorf("room is %s", r.state)
	}
	return r.pc, nil
}

func (r *Room) negotiate() error {
	r.mu.Lock()
	pc, conn := r.pc, r.conn
	r.mu.Unlock()
	if pc == nil || conn == nil {
		return errors.New("negotiate: not joined")
	}
	offer, err := pc.CreateOffer()
	if err != nil {
		return err
	}
	return conn.SendJSON(map[string]string{
		"type": "offer",
		"sdp":  offer.SDP,
	})
}

// close tears down the join. Only the first caller after a join does work.
func (r *Room) close() {
	r.mu.Lock()
	conn, pc, cancel, playing := r.conn, r.pc, r.cancel, r.playing
	r.conn, r.pc, r.cancel, r.playing = nil, nil, nil, nil
	r.remotes = make(map[remoteKey]*webrtc.TrackRemote)
	r.state = core.Disconnected
	r.mu.Unlock()

	for _, rt := range playing {
		rt.Stop()
	}
	if pc != nil {
		pc.Close()
	}
	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// watch reports remote participants as gone when signaling drops under a
// live join.
func (r *Room) watch(conn *signal.Conn) {
	<-conn.Done()
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	uids := make(map[domain.ParticipantID]struct{})
	for k := range r.remotes {
		uids[k.uid] = struct{}{}
	}
	onLeft := r.events.OnUserLeft
	r.mu.Unlock()

	log.Warn().Err(conn.Err()).Str("module", "rtc").Msg("sfu signaling lost")
	r.close()
	if onLeft == nil {
		return
	}
	for uid := range uids {
		onLeft(uid)
	}
}

func (r *Room) onTrack(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	uid, ok := domain.ParseParticipantID(track.StreamID())
	if !ok {
		log.Warn().Str("module", "rtc").Str("stream_id", track.StreamID()).Msg("remote track without participant id")
		return
	}
	kind := domain.MediaKind(track.Kind().String())

	r.mu.Lock()
	r.remotes[remoteKey{uid, kind}] = track
	onPublished := r.events.OnUserPublished
	r.mu.Unlock()

	if onPublished != nil {
		onPublished(uid, kind)
	}
}

func (r *Room) sendCandidate(conn *signal.Conn, ci webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{
		Type:      "candidate",
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	if err := conn.SendJSON(resp); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("candidate not sent")
	}
}
