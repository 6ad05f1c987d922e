package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/media"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/core/coretest"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// network routes signals between controllers in memory.
type network struct {
	mu    sync.Mutex
	nodes map[domain.UserID]*Controller
}

func newNetwork() *network {
	return &network{nodes: make(map[domain.UserID]*Controller)}
}

func (n *network) register(uid domain.UserID, c *Controller) {
	n.mu.Lock()
	n.nodes[uid] = c
	n.mu.Unlock()
}

type netTransport struct {
	net  *network
	name string
	self domain.UserID
	fail error
}

func (t *netTransport) Name() string { return t.name }

func (t *netTransport) Send(_ context.Context, to domain.UserID, sig domain.Signal) error {
	if t.fail != nil {
		return t.fail
	}
	t.net.mu.Lock()
	c, ok := t.net.nodes[to]
	t.net.mu.Unlock()
	if !ok {
		return errors.New("user offline")
	}
	c.HandleSignal(t.self, sig)
	return nil
}

type node struct {
	ctrl    *Controller
	store   *app.Store
	capt    *coretest.Capturer
	factory *coretest.Factory
	mgr     *media.Manager
	alerts  chan error
}

type nodeOpts struct {
	peerDown bool
	capt     *coretest.Capturer
	backend  core.Backend
	expiry   time.Duration
	room     *coretest.Room
}

func callConfig(expiry time.Duration) config.CallConfig {
	if expiry == 0 {
		expiry = 20 * time.Second
	}
	return config.CallConfig{
		Expiry:       expiry,
		RejectNotice: 30 * time.Millisecond,
		SendTimeout:  time.Second,
		LeaveTimeout: time.Second,
	}
}

func newNode(t *testing.T, net *network, uid domain.UserID, o nodeOpts) *node {
	t.Helper()
	if o.capt == nil {
		o.capt = &coretest.Capturer{}
	}
	factory := &coretest.Factory{Next: o.room}
	mgr := media.NewManager(media.Config{
		AppID:          "app",
		LockWait:       200 * time.Millisecond,
		LockPoll:       5 * time.Millisecond,
		DisconnectWait: 50 * time.Millisecond,
	}, factory, o.capt, nil, nil)

	peer := &netTransport{net: net, name: "peer", self: uid}
	if o.peerDown {
		peer.fail = domain.ErrPeerUnavailable
	}
	relay := &netTransport{net: net, name: "broadcast", self: uid}

	store := app.NewStore()
	ctrl := New(Options{
		Self:    uid,
		Config:  callConfig(o.expiry),
		Store:   store,
		Media:   mgr,
		Signals: app.NewDispatcher(time.Second, nil, peer, relay),
		Backend: o.backend,
		Limiter: app.NewInviteLimiter(10, time.Minute),
	})
	alerts := make(chan error, 4)
	ctrl.OnAlert(func(err error) { alerts <- err })
	net.register(uid, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &node{ctrl: ctrl, store: store, capt: o.capt, factory: factory, mgr: mgr, alerts: alerts}
}

func (n *node) state() domain.CallState { return n.store.State().State }

func (n *node) room() *coretest.Room { return n.factory.Last() }

// flush waits until every event queued so far has been processed.
func (n *node) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, n.ctrl.exec(context.Background(), func() error { return nil }))
}

func (n *node) eventually(t *testing.T, want domain.CallState) {
	t.Helper()
	require.Eventually(t, func() bool { return n.state() == want }, waitFor, tick, "want state %s, have %s", want, n.state())
}

func assertReleasedOnce(t *testing.T, c *coretest.Capturer) {
	t.Helper()
	for _, tr := range c.Tracks() {
		assert.Equal(t, 1, tr.Stops(), "stops of %s", tr.ID())
		assert.Equal(t, 1, tr.Closes(), "closes of %s", tr.ID())
	}
}

// connect runs invite and accept between caller and callee.
func connect(t *testing.T, caller, callee *node, typ domain.CallType) domain.CallID {
	t.Helper()
	ctx := context.Background()
	id, err := caller.ctrl.StartCall(ctx, "dave", "42", typ)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCalling, caller.state())

	callee.eventually(t, domain.StateRinging)
	require.NoError(t, callee.ctrl.Accept(ctx))
	caller.eventually(t, domain.StateInCall)

	require.Eventually(t, func() bool {
		return caller.store.State().MediaJoined && callee.store.State().MediaJoined
	}, waitFor, tick)
	return id
}

func TestInviteAcceptSharesStartTime(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})

	ctx := context.Background()
	id, err := carol.ctrl.StartCall(ctx, "dave", "42", domain.CallVideo)
	require.NoError(t, err)

	dave.eventually(t, domain.StateRinging)
	ringing := dave.store.State()
	assert.Equal(t, id, ringing.CallID)
	assert.Equal(t, domain.ChannelName("chat_42"), ringing.ChannelName)
	assert.Equal(t, domain.CallVideo, ringing.CallType)
	assert.Equal(t, domain.UserID("carol"), ringing.PeerUserID)
	assert.False(t, ringing.IsCaller)

	require.NoError(t, dave.ctrl.Accept(ctx))
	// Optimistic: in-call before the join finished.
	assert.Equal(t, domain.StateInCall, dave.state())
	assert.False(t, dave.store.State().StartedAt.IsZero())

	carol.eventually(t, domain.StateInCall)
	assert.Equal(t, dave.store.State().StartedAt, carol.store.State().StartedAt)

	require.Eventually(t, func() bool {
		return carol.store.State().MediaJoined && dave.store.State().MediaJoined
	}, waitFor, tick)
	assert.NotNil(t, carol.store.State().LocalVideoTrack)
	assert.NotNil(t, dave.store.State().LocalAudioTrack)
}

func TestDuplicateAcceptIsIgnored(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})
	id := connect(t, carol, dave, domain.CallAudio)

	before := carol.store.State()
	late := domain.AcceptSignal(id, "42", "chat_42", domain.CallAudio, "dave", "carol", before.StartedAt.Add(5*time.Second).UnixMilli())
	carol.ctrl.HandleSignal("dave", late)
	carol.flush(t)

	after := carol.store.State()
	assert.Equal(t, before.StartedAt, after.StartedAt)
	assert.Equal(t, domain.StateInCall, after.State)
	// Both channels delivered every signal, still one join per side.
	assert.Equal(t, 1, carol.room().Joins())
	assert.Equal(t, 1, dave.room().Joins())
}

func TestAcceptFromOtherUserIsIgnored(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})

	id, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallAudio)
	require.NoError(t, err)
	dave.eventually(t, domain.StateRinging)

	forged := domain.AcceptSignal(id, "42", "chat_42", domain.CallAudio, "mallory", "carol", time.Now().UnixMilli())
	carol.ctrl.HandleSignal("mallory", forged)
	carol.flush(t)
	assert.Equal(t, domain.StateCalling, carol.state())
	assert.Equal(t, 0, carol.room().Joins())

	require.NoError(t, dave.ctrl.Accept(context.Background()))
	carol.eventually(t, domain.StateInCall)
	assert.Equal(t, domain.UserID("dave"), carol.store.State().PeerUserID)
}

func TestEndReleasesTracksExactlyOnce(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})
	connect(t, carol, dave, domain.CallVideo)

	require.NoError(t, carol.ctrl.End(context.Background()))
	assert.Equal(t, domain.StateIdle, carol.state())
	dave.eventually(t, domain.StateIdle)

	require.Len(t, carol.capt.Tracks(), 2)
	require.Len(t, dave.capt.Tracks(), 2)
	assertReleasedOnce(t, carol.capt)
	assertReleasedOnce(t, dave.capt)

	// A second hang-up has nothing left to release.
	require.NoError(t, carol.ctrl.End(context.Background()))
	assertReleasedOnce(t, carol.capt)
}

func TestBroadcastChannelAloneIsEnough(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{peerDown: true})
	dave := newNode(t, net, "dave", nodeOpts{peerDown: true})

	connect(t, carol, dave, domain.CallAudio)
	assert.Equal(t, domain.StateInCall, carol.state())
	assert.Equal(t, domain.StateInCall, dave.state())
}

func TestDeviceBusyGivesReceiveOnlyCall(t *testing.T) {
	busy := domain.NewError(domain.KindDeviceBusy, "capture", errors.New("device or resource busy"))
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{capt: &coretest.Capturer{MicErr: busy, CamErr: busy}})
	connect(t, carol, dave, domain.CallVideo)

	st := dave.store.State()
	assert.Equal(t, domain.StateInCall, st.State)
	assert.Nil(t, st.LocalAudioTrack)
	assert.Nil(t, st.LocalVideoTrack)
	assert.True(t, st.ReceiveOnly)
	assert.Equal(t, 1, dave.room().Joins())

	dave.room().FirePublished(11, domain.MediaVideo)
	dave.room().FirePublished(11, domain.MediaAudio)
	require.Eventually(t, func() bool { return dave.store.State().RemoteTrackCount() == 2 }, waitFor, tick)
}

func TestPermissionDeniedAbortsCall(t *testing.T) {
	denied := domain.NewError(domain.KindPermissionDenied, "capture", errors.New("NotAllowedError"))
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{capt: &coretest.Capturer{MicErr: denied}})

	_, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallAudio)
	require.NoError(t, err)
	dave.eventually(t, domain.StateRinging)
	require.NoError(t, dave.ctrl.Accept(context.Background()))

	dave.eventually(t, domain.StateIdle)
	assert.Equal(t, 0, dave.room().Joins())
	select {
	case alert := <-dave.alerts:
		assert.ErrorIs(t, alert, domain.ErrPermissionDenied)
	case <-time.After(waitFor):
		t.Fatal("no alert raised")
	}
	carol.eventually(t, domain.StateIdle)
	// Carol's join may still be unwinding when the end arrives.
	require.Eventually(t, func() bool {
		for _, tr := range carol.capt.Tracks() {
			if tr.Closes() == 0 {
				return false
			}
		}
		return true
	}, waitFor, tick)
	assertReleasedOnce(t, carol.capt)
}

func TestInviteIgnoredWhileBusy(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})

	id, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallAudio)
	require.NoError(t, err)
	dave.eventually(t, domain.StateRinging)
	before := dave.store.State()

	dave.ctrl.HandleSignal("erin", domain.InviteSignal("other", "7", "chat_7", domain.CallVideo, "erin"))
	dave.flush(t)
	assert.Equal(t, before, dave.store.State())

	// The caller side is busy as well.
	carol.ctrl.HandleSignal("erin", domain.InviteSignal("other", "7", "chat_7", domain.CallVideo, "erin"))
	carol.flush(t)
	assert.Equal(t, id, carol.store.State().CallID)
	assert.Equal(t, domain.StateCalling, carol.state())
}

func TestUnansweredCallExpires(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{expiry: 60 * time.Millisecond})
	dave := newNode(t, net, "dave", nodeOpts{expiry: 60 * time.Millisecond})

	id, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallVideo)
	require.NoError(t, err)
	dave.eventually(t, domain.StateRinging)

	carol.eventually(t, domain.StateIdle)
	dave.eventually(t, domain.StateIdle)
	assert.Equal(t, 0, carol.room().Joins())

	// A late copy of the invite does not ring again.
	dave.ctrl.HandleSignal("carol", domain.InviteSignal(id, "42", "chat_42", domain.CallVideo, "carol"))
	dave.flush(t)
	assert.Equal(t, domain.StateIdle, dave.state())
}

func TestAcceptCancelsExpiry(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{expiry: 80 * time.Millisecond})
	dave := newNode(t, net, "dave", nodeOpts{expiry: 80 * time.Millisecond})
	connect(t, carol, dave, domain.CallAudio)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, domain.StateInCall, carol.state())
	assert.Equal(t, domain.StateInCall, dave.state())
}

func TestRejectShowsNoticeThenIdles(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})

	var mu sync.Mutex
	var seen []domain.CallState
	carol.store.Subscribe(func(cs app.CallSession) {
		mu.Lock()
		seen = append(seen, cs.State)
		mu.Unlock()
	})

	_, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallAudio)
	require.NoError(t, err)
	dave.eventually(t, domain.StateRinging)
	require.NoError(t, dave.ctrl.Reject(context.Background()))

	carol.eventually(t, domain.StateIdle)
	dave.eventually(t, domain.StateIdle)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.CallState{domain.StateCalling, domain.StateRejected, domain.StateIdle}, seen)
	assert.Equal(t, 0, carol.room().Joins())
}

func TestLastRemoteLeavingEndsCall(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})
	connect(t, carol, dave, domain.CallAudio)

	dave.room().FirePublished(3, domain.MediaAudio)
	require.Eventually(t, func() bool { return dave.store.State().RemoteTrackCount() == 1 }, waitFor, tick)
	remote := dave.store.State().RemoteAudioTracks[3].(*coretest.RemoteTrack)
	assert.Equal(t, 1, remote.Plays())

	dave.room().FireLeft(3)
	dave.eventually(t, domain.StateIdle)
	carol.eventually(t, domain.StateIdle)
	assert.Equal(t, 1, remote.Stops())
	assertReleasedOnce(t, dave.capt)
}

func TestUnpublishStopsOnlyThatKind(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})
	connect(t, carol, dave, domain.CallVideo)

	dave.room().FirePublished(3, domain.MediaAudio)
	dave.room().FirePublished(3, domain.MediaVideo)
	require.Eventually(t, func() bool { return dave.store.State().RemoteTrackCount() == 2 }, waitFor, tick)

	dave.room().FireUnpublished(3, domain.MediaVideo)
	require.Eventually(t, func() bool { return dave.store.State().RemoteTrackCount() == 1 }, waitFor, tick)
	assert.Equal(t, domain.StateInCall, dave.state())
	assert.Contains(t, dave.store.State().RemoteAudioTracks, domain.ParticipantID(3))
}

func TestDuplicateRemoteTrackReplaces(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})
	connect(t, carol, dave, domain.CallAudio)

	dave.room().FirePublished(3, domain.MediaAudio)
	require.Eventually(t, func() bool { return dave.store.State().RemoteTrackCount() == 1 }, waitFor, tick)
	first := dave.store.State().RemoteAudioTracks[3].(*coretest.RemoteTrack)

	dave.room().FirePublished(3, domain.MediaAudio)
	require.Eventually(t, func() bool { return first.Stops() == 1 }, waitFor, tick)
	assert.Equal(t, 1, dave.store.State().RemoteTrackCount())
}

func TestEndDuringJoinReleasesTracks(t *testing.T) {
	room := coretest.NewRoom()
	room.Gate = make(chan struct{})
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{room: room})

	_, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallVideo)
	require.NoError(t, err)
	dave.eventually(t, domain.StateRinging)
	require.NoError(t, dave.ctrl.Accept(context.Background()))
	require.Eventually(t, func() bool { return room.Joins() == 1 }, waitFor, tick)

	require.NoError(t, dave.ctrl.End(context.Background()))
	assert.Equal(t, domain.StateIdle, dave.state())
	close(room.Gate)

	require.Eventually(t, func() bool {
		for _, tr := range dave.capt.Tracks() {
			if tr.Closes() != 1 {
				return false
			}
		}
		return true
	}, waitFor, tick)
	dave.flush(t)
	assertReleasedOnce(t, dave.capt)
	assert.Equal(t, domain.StateIdle, dave.state())
}

func TestEndDuringSlowJoinLeavesRoom(t *testing.T) {
	room := coretest.NewRoom()
	room.Gate = make(chan struct{})
	room.IgnoreCtx = true
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{room: room})

	_, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallAudio)
	require.NoError(t, err)
	dave.eventually(t, domain.StateRinging)
	require.NoError(t, dave.ctrl.Accept(context.Background()))
	require.Eventually(t, func() bool { return room.State() == core.Connecting }, waitFor, tick)

	require.NoError(t, dave.ctrl.End(context.Background()))
	close(room.Gate)

	require.Eventually(t, func() bool { return !dave.mgr.Joining() }, waitFor, tick)
	dave.flush(t)
	assert.Equal(t, domain.StateIdle, dave.state())
	assert.Equal(t, core.Disconnected, room.State())
	assertReleasedOnce(t, dave.capt)
}

func TestTogglesReachTracks(t *testing.T) {
	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{})
	dave := newNode(t, net, "dave", nodeOpts{})
	connect(t, carol, dave, domain.CallVideo)
	ctx := context.Background()

	muted, err := dave.ctrl.ToggleMute(ctx)
	require.NoError(t, err)
	assert.True(t, muted)
	off, err := dave.ctrl.ToggleCamera(ctx)
	require.NoError(t, err)
	assert.True(t, off)
	for _, tr := range dave.capt.Tracks() {
		assert.False(t, tr.Enabled(), tr.ID())
	}

	dave.room().FirePublished(3, domain.MediaAudio)
	require.Eventually(t, func() bool { return dave.store.State().RemoteTrackCount() == 1 }, waitFor, tick)
	speakerOff, err := dave.ctrl.ToggleSpeaker(ctx)
	require.NoError(t, err)
	assert.True(t, speakerOff)
	assert.Equal(t, 0, dave.store.State().RemoteAudioTracks[3].(*coretest.RemoteTrack).Volume())

	require.NoError(t, dave.ctrl.SetMinimized(ctx, true))
	assert.True(t, dave.store.State().IsUIMinimized)
	assert.Greater(t, dave.ctrl.Elapsed(), time.Duration(-1))
}

func TestActionsRejectWrongState(t *testing.T) {
	net := newNetwork()
	dave := newNode(t, net, "dave", nodeOpts{})
	ctx := context.Background()

	assert.ErrorIs(t, dave.ctrl.Accept(ctx), domain.ErrInvalidState)
	assert.ErrorIs(t, dave.ctrl.Reject(ctx), domain.ErrInvalidState)
	assert.NoError(t, dave.ctrl.End(ctx))

	_, err := dave.ctrl.StartCall(ctx, "dave", "42", domain.CallAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CreateCall(ctx context.Context, chat domain.ChatID, typ domain.CallType) (core.CallAllocation, error) {
	args := m.Called(ctx, chat, typ)
	return args.Get(0).(core.CallAllocation), args.Error(1)
}

func (m *mockBackend) JoinCall(ctx context.Context, id domain.CallID) (core.JoinCredentials, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(core.JoinCredentials), args.Error(1)
}

func (m *mockBackend) EndCall(ctx context.Context, id domain.CallID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBackend) FetchRelayToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func TestBackendDrivesIdsAndTokens(t *testing.T) {
	be := &mockBackend{}
	ended := make(chan domain.CallID, 1)
	be.On("CreateCall", mock.Anything, domain.ChatID("42"), domain.CallAudio).
		Return(core.CallAllocation{CallID: "srv-1", ChannelName: "chat_42"}, nil)
	be.On("JoinCall", mock.Anything, domain.CallID("srv-1")).
		Return(core.JoinCredentials{Token: "rtc-token", ChannelName: "chat_42", UID: 1001, ChatID: "42"}, nil)
	be.On("EndCall", mock.Anything, domain.CallID("srv-1")).
		Return(errors.New("backend down")).
		Run(func(mock.Arguments) { ended <- "srv-1" })

	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{backend: be})
	dave := newNode(t, net, "dave", nodeOpts{})

	id := connect(t, carol, dave, domain.CallAudio)
	assert.Equal(t, domain.CallID("srv-1"), id)
	assert.Equal(t, "rtc-token", carol.room().LastParams().Token)
	assert.Equal(t, domain.ParticipantID(1001), carol.room().LastParams().UID)

	// A failing end-call notification does not block local cleanup.
	require.NoError(t, carol.ctrl.End(context.Background()))
	assert.Equal(t, domain.StateIdle, carol.state())
	select {
	case got := <-ended:
		assert.Equal(t, id, got)
	case <-time.After(waitFor):
		t.Fatal("backend end-call not notified")
	}
	dave.eventually(t, domain.StateIdle)
}

func TestBackendFailureFallsBackToLocalID(t *testing.T) {
	be := &mockBackend{}
	be.On("CreateCall", mock.Anything, mock.Anything, mock.Anything).
		Return(core.CallAllocation{}, errors.New("503"))
	be.On("EndCall", mock.Anything, mock.Anything).Return(nil).Maybe()

	net := newNetwork()
	carol := newNode(t, net, "carol", nodeOpts{backend: be})
	dave := newNode(t, net, "dave", nodeOpts{})

	id, err := carol.ctrl.StartCall(context.Background(), "dave", "42", domain.CallAudio)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	dave.eventually(t, domain.StateRinging)
	assert.Equal(t, domain.ChannelName("chat_42"), dave.store.State().ChannelName)
}

func TestRecentCallsEvictsOldest(t *testing.T) {
	r := newRecentCalls(2)
	r.add("a")
	r.add("b")
	r.add("c")
	assert.False(t, r.has("a"))
	assert.True(t, r.has("b"))
	assert.True(t, r.has("c"))
}
