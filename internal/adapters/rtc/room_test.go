package rtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/core/coretest"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSFU answers join with a fixed uid and records frame types.
type fakeSFU struct {
	srv *httptest.Server

	mu       sync.Mutex
	received []map[string]any
	ws       *websocket.Conn
	joinErr  string
	silent   bool
}

func newFakeSFU(t *testing.T) *fakeSFU {
	s := &fakeSFU{}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.ws = ws
		s.mu.Unlock()
		s.serve(ws)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeSFU) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *fakeSFU) serve(ws *websocket.Conn) {
	defer ws.Close()
	for {
		var msg map[string]any
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		joinErr, silent := s.joinErr, s.silent
		s.mu.Unlock()
		if msg["type"] != "join" || silent {
			continue
		}
		if joinErr != "" {
			s.push(map[string]any{"type": "error", "error": joinErr})
			continue
		}
		s.push(map[string]any{"type": "room_state", "uid": 42})
	}
}

func (s *fakeSFU) push(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.WriteJSON(v)
}

func (s *fakeSFU) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.received))
	for _, m := range s.received {
		t, _ := m["type"].(string)
		out = append(out, t)
	}
	return out
}

func (s *fakeSFU) frame(typ string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.received {
		if m["type"] == typ {
			return m
		}
	}
	return nil
}

func newTestRoom(t *testing.T, sfu *fakeSFU) *Room {
	f, err := NewFactory(RoomConfig{URL: sfu.url()}, nil)
	require.NoError(t, err)
	return f.NewRoom().(*Room)
}

func TestJoinNegotiatesAndLeaves(t *testing.T) {
	sfu := newFakeSFU(t)
	room := newTestRoom(t, sfu)

	left := make(chan domain.ParticipantID, 1)
	unpublished := make(chan domain.MediaKind, 1)
	room.SetEvents(core.RoomEvents{
		OnUserLeft:        func(uid domain.ParticipantID) { left <- uid },
		OnUserUnpublished: func(_ domain.ParticipantID, kind domain.MediaKind) { unpublished <- kind },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	uid, err := room.Join(ctx, core.JoinParams{AppID: "app", Channel: "chat_7", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID(42), uid)
	assert.Equal(t, core.Connected, room.State())

	join := sfu.frame("join")
	require.NotNil(t, join)
	assert.Equal(t, "chat_7", join["room"])
	assert.Equal(t, "tok", join["token"])
	assert.Eventually(t, func() bool { return sfu.frame("offer") != nil }, 2*time.Second, 10*time.Millisecond)

	sfu.push(map[string]any{"type": "track_removed", "uid": 9, "kind": "video"})
	sfu.push(map[string]any{"type": "member_left", "uid": 9})
	assert.Equal(t, domain.MediaVideo, <-unpublished)
	assert.Equal(t, domain.ParticipantID(9), <-left)

	_, err = room.Subscribe(ctx, 9, domain.MediaAudio)
	assert.Error(t, err)
	assert.Error(t, room.Publish(ctx, coretest.NewTrack("mic", domain.MediaAudio)))

	require.NoError(t, room.Leave(ctx))
	assert.Equal(t, core.Disconnected, room.State())
	assert.Eventually(t, func() bool { return sfu.frame("leave") != nil }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, room.Leave(ctx))
}

func TestJoinRejectedBySFU(t *testing.T) {
	sfu := newFakeSFU(t)
	sfu.joinErr = "bad token"
	room := newTestRoom(t, sfu)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := room.Join(ctx, core.JoinParams{Channel: "chat_7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad token")
	assert.Equal(t, core.Disconnected, room.State())
}

func TestJoinTimesOut(t *testing.T) {
	sfu := newFakeSFU(t)
	sfu.silent = true
	room := newTestRoom(t, sfu)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := room.Join(ctx, core.JoinParams{Channel: "chat_7"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.Disconnected, room.State())
	assert.Equal(t, []string{"join"}, sfu.types())
}

func TestPublishRequiresJoin(t *testing.T) {
	room := newTestRoom(t, newFakeSFU(t))
	assert.Error(t, room.Publish(context.Background(), coretest.NewTrack("mic", domain.MediaAudio)))
	assert.Error(t, room.Unpublish(context.Background()))
}
