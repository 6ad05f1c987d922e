// Package coretest provides in-memory media fakes for controller and
// media manager tests.
package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

type Track struct {
	id      string
	kind    domain.MediaKind
	enabled atomic.Bool
	stops   atomic.Int32
	closes  atomic.Int32
}

func NewTrack(id string, kind domain.MediaKind) *Track {
	t := &Track{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() domain.MediaKind  { return t.kind }
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) Stop()                   { t.stops.Add(1) }
func (t *Track) Close() error {
	t.closes.Add(1)
	return nil
}

func (t *Track) Stops() int  { return int(t.stops.Load()) }
func (t *Track) Closes() int { return int(t.closes.Load()) }

type RemoteTrack struct {
	uid    domain.ParticipantID
	kind   domain.MediaKind
	plays  atomic.Int32
	stops  atomic.Int32
	volume atomic.Int32
}

func NewRemoteTrack(uid domain.ParticipantID, kind domain.MediaKind) *RemoteTrack {
	r := &RemoteTrack{uid: uid, kind: kind}
	r.volume.Store(100)
	return r
}

func (r *RemoteTrack) ID() string                        { return fmt.Sprintf("%s-%s", r.uid, r.kind) }
func (r *RemoteTrack) Kind() domain.MediaKind            { return r.kind }
func (r *RemoteTrack) Participant() domain.ParticipantID { return r.uid }
func (r *RemoteTrack) Play() error {
	r.plays.Add(1)
	return nil
}

func (r *RemoteTrack) Stop()           { r.stops.Add(1) }
func (r *RemoteTrack) SetVolume(v int) { r.volume.Store(int32(v)) }
func (r *RemoteTrack) Plays() int      { return int(r.plays.Load()) }
func (r *RemoteTrack) Stops() int      { return int(r.stops.Load()) }
func (r *RemoteTrack) Volume() int     { return int(r.volume.Load()) }

// Room records every call made against it. Join blocks while Gate is set
// and not yet closed.
type Room struct {
	mu        sync.Mutex
	state     core.ConnectionState
	events    core.RoomEvents
	published []core.LocalTrack

	JoinErr    error
	PublishErr error
	LeaveErr   error
	UID        domain.ParticipantID
	Gate       chan struct{}
	// IgnoreCtx makes Join wait for Gate even after ctx is done.
	IgnoreCtx  bool
	// StuckState, when set, is the state the room reports after Leave.
	StuckState *core.ConnectionState

	joins       atomic.Int32
	leaves      atomic.Int32
	unpublishes atomic.Int32
	lastParams  atomic.Pointer[core.JoinParams]
}

func NewRoom() *Room {
	return &Room{UID: 7}
}

func (r *Room) State() core.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) SetState(s core.ConnectionState) {
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
	r.joins.Add(1)
	r.lastParams.Store(&p)
	r.SetState(core.Connecting)
	if r.Gate != nil && r.IgnoreCtx {
		<-r.Gate
	} else if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			r.SetState(core.Disconnected)
			return 0, ctx.Err()
		}
	}
	if r.JoinErr != nil {
		r.SetState(core.Disconnected)
		return 0, r.JoinErr
	}
	r.SetState(core.Connected)
	return r.UID, nil
}

func (r *Room) Publish(_ context.Context, tracks ...core.LocalTrack) error {
	if r.PublishErr != nil {
		return r.PublishErr
	}
	r.mu.Lock()
	r.published = append(r.published, tracks...)
	r.mu.Unlock()
	return nil
}

func (r *Room) Unpublish(_ context.Context, tracks ...core.LocalTrack) error {
	r.unpublishes.Add(1)
	return nil
}

func (r *Room) Subscribe(_ context.Context, uid domain.ParticipantID, kind domain.MediaKind) (core.RemoteTrack, error) {
	return NewRemoteTrack(uid, kind), nil
}

func (r *Room) Leave(context.Context) error {
	r.leaves.Add(1)
	r.mu.Lock()
	r.state = core.Disconnected
	if r.StuckState != nil {
		r.state = *r.StuckState
	}
	r.mu.Unlock()
	return r.LeaveErr
}

func (r *Room) Joins() int       { return int(r.joins.Load()) }
func (r *Room) Leaves() int      { return int(r.leaves.Load()) }
func (r *Room) Unpublishes() int { return int(r.unpublishes.Load()) }

func (r *Room) LastParams() core.JoinParams {
	if p := r.lastParams.Load(); p != nil {
		return *p
	}
	return core.JoinParams{}
}

func (r *Room) Published() []core.LocalTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.LocalTrack(nil), r.published...)
}

// FirePublished emulates a remote participant publishing media.
func (r *Room) FirePublished(uid domain.ParticipantID, kind domain.MediaKind) {
	r.mu.Lock()
	ev := r.events
	r.mu.Unlock()
	if ev.OnUserPublished != nil {
		ev.OnUserPublished(uid, kind)
	}
}

func (r *Room) FireUnpublished(uid domain.ParticipantID, kind domain.MediaKind) {
	r.mu.Lock()
	ev := r.events
	r.mu.Unlock()
	if ev.OnUserUnpublished != nil {
		ev.OnUserUnpublished(uid, kind)
	}
}

func (r *Room) FireLeft(uid domain.ParticipantID) {
	r.mu.Lock()
	ev := r.events
	r.mu.Unlock()
	if ev.OnUserLeft != nil {
		ev.OnUserLeft(uid)
	}
}

// Factory hands out Next if set, otherwise fresh rooms.
type Factory struct {
	mu    sync.Mutex
	rooms []*Room
	Next  *Room
}

func (f *Factory) NewRoom() core.RoomConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.Next
	f.Next = nil
	if r == nil {
		r = NewRoom()
	}
	f.rooms = append(f.rooms, r)
	return r
}

func (f *Factory) Rooms() []*Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Room(nil), f.rooms...)
}

// Last is the room the manager currently uses.
func (f *Factory) Last() *Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rooms) == 0 {
		return nil
	}
	return f.rooms[len(f.rooms)-1]
}

type Capturer struct {
	MicErr error
	CamErr error

	mu     sync.Mutex
	tracks []*Track
	seq    int
}

func (c *Capturer) Microphone(context.Context) (core.LocalTrack, error) {
	return c.open(domain.MediaAudio, c.MicErr)
}

func (c *Capturer) Camera(context.Context) (core.LocalTrack, error) {
	return c.open(domain.MediaVideo, c.CamErr)
}

func (c *Capturer) open(kind domain.MediaKind, err error) (core.LocalTrack, error) {
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := NewTrack(fmt.Sprintf("%s-%d", kind, c.seq), kind)
	c.tracks = append(c.tracks, t)
	return t, nil
}

// Tracks returns every track the capturer ever opened.
func (c *Capturer) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.tracks...)
}
