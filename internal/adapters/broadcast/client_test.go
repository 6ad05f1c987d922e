package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay routes packets by bearer token: the token is the user id.
type relay struct {
	srv   *httptest.Server
	dials atomic.Int32

	mu    sync.Mutex
	users map[domain.UserID]*relayConn
}

type relayConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *relayConn) write(p Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteJSON(p)
}

func newRelay(t *testing.T) *relay {
	r := &relay{users: make(map[domain.UserID]*relayConn)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		uid := domain.UserID(strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer "))
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.dials.Add(1)
		conn := &relayConn{ws: ws}
		r.mu.Lock()
		r.users[uid] = conn
		r.mu.Unlock()
		r.serve(uid, conn)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *relay) serve(uid domain.UserID, c *relayConn) {
	defer c.ws.Close()
	for {
		var p Packet
		if err := c.ws.ReadJSON(&p); err != nil {
			return
		}
		if p.Payload == nil {
			c.write(Packet{Action: actionError, Message: "missing payload"})
			continue
		}
		r.mu.Lock()
		dst := r.users[p.Payload.To]
		r.mu.Unlock()
		if dst == nil {
			continue
		}
		dst.write(Packet{Action: p.Action, Payload: &CallEnvelope{From: uid, Event: p.Payload.Event}})
	}
}

func (r *relay) kick(uid domain.UserID) {
	r.mu.Lock()
	c := r.users[uid]
	delete(r.users, uid)
	r.mu.Unlock()
	if c != nil {
		_ = c.ws.Close()
	}
}

func (r *relay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func startClient(t *testing.T, r *relay, uid domain.UserID) *Client {
	t.Helper()
	c := New(Config{URL: r.url(), Token: string(uid), ReconnectDelay: 10 * time.Millisecond, PingPeriod: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
	return c
}

func TestSignalsRouteByAction(t *testing.T) {
	r := newRelay(t)
	alice := startClient(t, r, "alice")
	bob := startClient(t, r, "bob")

	invites := make(chan domain.Signal, 1)
	ends := make(chan domain.UserID, 1)
	bob.OnInvite(func(from domain.UserID, sig domain.Signal) { invites <- sig })
	bob.OnEnd(func(from domain.UserID, sig domain.Signal) { ends <- from })

	ctx := context.Background()
	invite := domain.InviteSignal("c1", "42", "chat_42", domain.CallAudio, "alice")
	require.NoError(t, alice.Send(ctx, "bob", invite))
	require.NoError(t, alice.EmitEnd(ctx, "bob", domain.EndSignal("c1")))

	select {
	case got := <-invites:
		assert.Equal(t, invite, got)
	case <-time.After(2 * time.Second):
		t.Fatal("invite not delivered")
	}
	select {
	case from := <-ends:
		assert.Equal(t, domain.UserID("alice"), from)
	case <-time.After(2 * time.Second):
		t.Fatal("end not delivered")
	}
}

func TestOnSignalSeesEveryAction(t *testing.T) {
	r := newRelay(t)
	alice := startClient(t, r, "alice")
	bob := startClient(t, r, "bob")

	var mu sync.Mutex
	var types []domain.SignalType
	bob.OnSignal(func(_ domain.UserID, sig domain.Signal) {
		mu.Lock()
		types = append(types, sig.Type)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, alice.EmitAccept(ctx, "bob", domain.AcceptSignal("c1", "42", "chat_42", domain.CallAudio, "alice", "bob", 1)))
	require.NoError(t, alice.EmitReject(ctx, "bob", domain.RejectSignal("c1")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.SignalType{domain.SignalAccept, domain.SignalReject}, types)
}

func TestReconnectsAfterRelayDrop(t *testing.T) {
	r := newRelay(t)
	alice := startClient(t, r, "alice")
	bob := startClient(t, r, "bob")

	got := make(chan domain.Signal, 1)
	bob.OnReject(func(_ domain.UserID, sig domain.Signal) { got <- sig })

	r.kick("alice")
	require.Eventually(t, func() bool { return r.dials.Load() == 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, alice.Send(ctx, "bob", domain.RejectSignal("c9")))
	select {
	case sig := <-got:
		assert.Equal(t, domain.CallID("c9"), sig.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("reject not delivered after reconnect")
	}
}

func TestSendWaitsForConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, "bob", domain.EndSignal("c1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
