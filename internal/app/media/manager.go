package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppID          string
	LockWait       time.Duration
	LockPoll       time.Duration
	DisconnectWait time.Duration
	// SubscribeTimeout bounds one auto-subscribe triggered by a room event.
	SubscribeTimeout time.Duration
}

// Listeners receive remote media changes of the joined room.
type Listeners struct {
	OnRemoteAudio       func(core.RemoteTrack)
	OnRemoteVideo       func(core.RemoteTrack)
	OnRemoteUnpublished func(uid domain.ParticipantID, kind domain.MediaKind)
	OnUserLeft          func(uid domain.ParticipantID)
}

type JoinRequest struct {
	Channel domain.ChannelName
	Token   string
	UID     domain.ParticipantID
	Listeners
}

// JoinResult is what one join produced. Nil tracks are valid: with
// ReceiveOnly set the room was joined without local capture, with NoMedia
// set the room was not joined at all.
type JoinResult struct {
	Audio       core.LocalTrack
	Video       core.LocalTrack
	UID         domain.ParticipantID
	ReceiveOnly bool
	NoMedia     bool
}

func (r JoinResult) Tracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, 2)
	if r.Audio != nil {
		out = append(out, r.Audio)
	}
	if r.Video != nil {
		out = append(out, r.Video)
	}
	return out
}

func (r JoinResult) outcome() string {
	switch {
	case r.NoMedia:
		return "no_media"
	case r.ReceiveOnly:
		return "receive_only"
	default:
		return "ok"
	}
}

// Manager owns the process-wide media resources: the room connection,
// the join lock and every track it captured. One per process.
type Manager struct {
	cfg      Config
	factory  core.RoomFactory
	capturer core.Capturer
	policy   app.CapturePolicy
	metrics  *metrics.Metrics

	joining atomic.Bool

	mu    sync.Mutex
	room  core.RoomConnection
	owned map[*trackHandle]struct{}
}

func NewManager(cfg Config, factory core.RoomFactory, capturer core.Capturer, policy app.CapturePolicy, m *metrics.Metrics) *Manager {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = 100 * time.Millisecond
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		capturer: capturer,
		policy:   policy,
		metrics:  m,
		room:     factory.NewRoom(),
		owned:    make(map[*trackHandle]struct{}),
	}
}

func (m *Manager) JoinAudio(ctx context.Context, req JoinRequest) (JoinResult, error) {
	return m.join(ctx, req, domain.MediaAudio)
}

func (m *Manager) JoinVideo(ctx context.Context, req JoinRequest) (JoinResult, error) {
	return m.join(ctx, req, domain.MediaAudio, domain.MediaVideo)
}

// Joining reports whether a join currently holds the lock.
func (m *Manager) Joining() bool { return m.joining.Load() }

func (m *Manager) join(ctx context.Context, req JoinRequest, kinds ...domain.MediaKind) (res JoinResult, err error) {
	logger := log.With().
		Str("module", "media").
		Str("channel", string(req.Channel)).
		Logger()

	defer func() {
		switch {
		case errors.Is(err, domain.ErrPermissionDenied):
			m.metrics.MediaJoin("permission_denied")
		case err != nil:
			m.metrics.MediaJoin("failed")
		default:
			m.metrics.MediaJoin(res.outcome())
		}
	}()

	if err := m.acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return JoinResult{NoMedia: true}, ctx.Err()
		}
		logger.Warn().Err(err).Msg("join skipped, another join is in flight")
		return JoinResult{NoMedia: true}, nil
	}
	defer m.joining.Store(false)

	room := m.prepare(ctx)

	captured := make(map[domain.MediaKind]*trackHandle, len(kinds))
	var receiveOnly bool
	for _, kind := range kinds {
		h, err := m.capture(ctx, kind)
		if err == nil {
			captured[kind] = h
			continue
		}
		switch m.policy.OnCaptureError(kind, err) {
		case app.AbortCall:
			logger.Warn().Err(err).Str("kind", string(kind)).Msg("capture refused, aborting join")
			m.releaseAll(captured)
			return JoinResult{NoMedia: true}, err
		default:
			logger.Info().Err(err).Str("kind", string(kind)).Msg("capture unavailable, continuing receive-only")
			receiveOnly = true
		}
	}

	if err := ctx.Err(); err != nil {
		m.releaseAll(captured)
		return JoinResult{NoMedia: true}, err
	}

	room.SetEvents(m.roomEvents(room, req.Listeners))
	uid, err := room.Join(ctx, core.JoinParams{
		AppID:   m.cfg.AppID,
		Channel: req.Channel,
		Token:   req.Token,
		UID:     req.UID,
	})
	if err != nil {
		m.releaseAll(captured)
		if ctx.Err() != nil {
			return JoinResult{NoMedia: true}, ctx.Err()
		}
		logger.Warn().Err(err).Msg("room join failed, continuing without media")
		return JoinResult{NoMedia: true}, nil
	}

	if err := ctx.Err(); err != nil {
		logger.Info().Msg("join cancelled after connect, leaving room")
		m.abandon(room, captured)
		return JoinResult{NoMedia: true}, err
	}

	res = JoinResult{UID: uid, ReceiveOnly: receiveOnly}
	if h, ok := captured[domain.MediaAudio]; ok {
		res.Audio = h
	}
	if h, ok := captured[domain.MediaVideo]; ok {
		res.Video = h
	}

	if tracks := res.Tracks(); len(tracks) > 0 {
		if err := room.Publish(ctx, unwrap(tracks)...); err != nil {
			logger.Warn().Err(err).Msg("publish failed, continuing receive-only")
			m.releaseAll(captured)
			res.Audio, res.Video = nil, nil
			res.ReceiveOnly = true
		}
	}
	if err := ctx.Err(); err != nil {
		logger.Info().Msg("join cancelled after publish, leaving room")
		m.abandon(room, captured)
		return JoinResult{NoMedia: true}, err
	}

	logger.Info().
		Str("uid", uid.String()).
		Bool("audio", res.Audio != nil).
		Bool("video", res.Video != nil).
		Bool("receive_only", res.ReceiveOnly).
		Msg("joined media room")
	return res, nil
}

// acquire takes the join lock, polling until LockWait runs out.
func (m *Manager) acquire(ctx context.Context) error {
	if m.joining.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.NewTimer(m.cfg.LockWait)
	defer deadline.Stop()
	tick := time.NewTicker(m.cfg.LockPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return domain.NewError(domain.KindTransportRace, "media.join", domain.ErrJoinBusy)
		case <-tick.C:
			if m.joining.CompareAndSwap(false, true) {
				return nil
			}
		}
	}
}

// prepare releases tracks left from an earlier session and returns a room
// connection in the disconnected state, replacing it if it stays busy.
func (m *Manager) prepare(ctx context.Context) core.RoomConnection {
	room := m.currentRoom()
	logger := log.With().Str("module", "media").Logger()

	if orphans := m.takeOwned(); len(orphans) > 0 {
		if room.State() == core.Connected {
			if err := room.Unpublish(ctx, unwrapHandles(orphans)...); err != nil {
				logger.Debug().Err(err).Msg("unpublish of stale tracks failed")
			}
		}
		for _, h := range orphans {
			_ = h.release()
		}
		logger.Info().Int("count", len(orphans)).Msg("released stale local tracks before join")
	}

	if room.State() == core.Connected {
		if err := room.Leave(ctx); err != nil {
			logger.Debug().Err(err).Msg("leave of previous room failed")
		}
	}

	if m.waitDisconnected(ctx, room) {
		return room
	}

	logger.Warn().Str("state", room.State().String()).Msg("room connection stuck, recreating")
	fresh := m.factory.NewRoom()
	m.mu.Lock()
	m.room = fresh
	m.mu.Unlock()
	return fresh
}

func (m *Manager) waitDisconnected(ctx context.Context, room core.RoomConnection) bool {
	if room.State() == core.Disconnected {
		return true
	}
	deadline := time.Now().Add(m.cfg.DisconnectWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return room.State() == core.Disconnected
		case <-time.After(m.cfg.LockPoll):
		}
		if room.State() == core.Disconnected {
			return true
		}
	}
	return false
}

func (m *Manager) capture(ctx context.Context, kind domain.MediaKind) (*trackHandle, error) {
	var (
		t   core.LocalTrack
		err error
	)
	switch kind {
	case domain.MediaVideo:
		t, err = m.capturer.Camera(ctx)
	default:
		t, err = m.capturer.Microphone(ctx)
	}
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.NewError(domain.KindDeviceBusy, "media.capture", fmt.Errorf("no %s track", kind))
	}
	h := newTrackHandle(t, m.metrics)
	m.mu.Lock()
	m.owned[h] = struct{}{}
	m.mu.Unlock()
	return h, nil
}

func (m *Manager) roomEvents(room core.RoomConnection, l Listeners) core.RoomEvents {
	return core.RoomEvents{
		OnUserPublished: func(uid domain.ParticipantID, kind domain.MediaKind) {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SubscribeTimeout)
			defer cancel()
			track, err := room.Subscribe(ctx, uid, kind)
			if err != nil {
				log.Warn().Err(err).
					Str("module", "media").
					Str("uid", uid.String()).
					Str("kind", string(kind)).
					Msg("subscribe failed")
				return
			}
			if err := track.Play(); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("uid", uid.String()).Msg("remote playback failed")
			}
			switch kind {
			case domain.MediaVideo:
				if l.OnRemoteVideo != nil {
					l.OnRemoteVideo(track)
				}
			default:
				if l.OnRemoteAudio != nil {
					l.OnRemoteAudio(track)
				}
			}
		},
		OnUserUnpublished: func(uid domain.ParticipantID, kind domain.MediaKind) {
			if l.OnRemoteUnpublished != nil {
				l.OnRemoteUnpublished(uid, kind)
			}
		},
		OnUserLeft: func(uid domain.ParticipantID) {
			if l.OnUserLeft != nil {
				l.OnUserLeft(uid)
			}
		},
	}
}

// Leave unpublishes, leaves the room and releases the given tracks plus any
// track still owned from an earlier join. Every step runs even if an
// earlier one failed. Safe to call without a prior join.
func (m *Manager) Leave(ctx context.Context, tracks ...core.LocalTrack) error {
	room := m.currentRoom()
	var errs []error

	orphans := m.takeOwned()
	all := make([]core.LocalTrack, 0, len(tracks)+len(orphans))
	seen := make(map[core.LocalTrack]struct{}, len(tracks)+len(orphans))
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		all = append(all, t)
	}
	for _, h := range orphans {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		all = append(all, h)
	}

	if room.State() == core.Connected && len(all) > 0 {
		if err := room.Unpublish(ctx, unwrap(all)...); err != nil {
			errs = append(errs, fmt.Errorf("unpublish: %w", err))
		}
	}
	if room.State() != core.Disconnected {
		if err := room.Leave(ctx); err != nil {
			errs = append(errs, fmt.Errorf("leave room: %w", err))
		}
	}
	for _, t := range all {
		if err := releaseTrack(t); err != nil {
			errs = append(errs, fmt.Errorf("close %s track %s: %w", t.Kind(), t.ID(), err))
		}
	}

	err := errors.Join(errs...)
	log.Info().
		Err(err).
		Str("module", "media").
		Int("tracks", len(all)).
		Msg("left media room")
	return err
}

// Release stops and closes a single track without leaving the room.
func (m *Manager) Release(t core.LocalTrack) error {
	if t == nil {
		return nil
	}
	if h, ok := t.(*trackHandle); ok {
		m.mu.Lock()
		delete(m.owned, h)
		m.mu.Unlock()
	}
	return releaseTrack(t)
}

func releaseTrack(t core.LocalTrack) error {
	if h, ok := t.(*trackHandle); ok {
		return h.release()
	}
	t.Stop()
	return t.Close()
}

func (m *Manager) currentRoom() core.RoomConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

func (m *Manager) takeOwned() []*trackHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*trackHandle, 0, len(m.owned))
	for h := range m.owned {
		out = append(out, h)
	}
	clear(m.owned)
	return out
}

// abandon undoes a join whose caller gave up while it was running.
func (m *Manager) abandon(room core.RoomConnection, captured map[domain.MediaKind]*trackHandle) {
	m.releaseAll(captured)
	wait := m.cfg.DisconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := room.Leave(ctx); err != nil {
		log.Debug().Err(err).Str("module", "media").Msg("leave of abandoned room failed")
	}
}

func (m *Manager) releaseAll(hs map[domain.MediaKind]*trackHandle) {
	m.mu.Lock()
	for _, h := range hs {
		delete(m.owned, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		_ = h.release()
	}
}

func unwrapHandles(hs []*trackHandle) []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.inner)
	}
	return out
}
