package http

import (
	"context"
	stdhttp "net/http"
	"slices"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// SessionView is the JSON shape of a call session for the UI.
type SessionView struct {
	CallID         domain.CallID          `json:"call_id,omitempty"`
	ChatID         domain.ChatID          `json:"chat_id,omitempty"`
	ChannelName    domain.ChannelName     `json:"channel_name,omitempty"`
	CallType       domain.CallType        `json:"call_type,omitempty"`
	IsCaller       bool                   `json:"is_caller"`
	PeerUserID     domain.UserID          `json:"peer_user_id,omitempty"`
	State          domain.CallState       `json:"state"`
	StartedAtMs    int64                  `json:"started_at_ms,omitempty"`
	ElapsedMs      int64                  `json:"elapsed_ms"`
	MediaJoined    bool                   `json:"media_joined"`
	ReceiveOnly    bool                   `json:"receive_only"`
	LocalAudio     bool                   `json:"local_audio"`
	LocalVideo     bool                   `json:"local_video"`
	RemoteAudio    []domain.ParticipantID `json:"remote_audio"`
	RemoteVideo    []domain.ParticipantID `json:"remote_video"`
	IsMuted        bool                   `json:"is_muted"`
	IsCameraOff    bool                   `json:"is_camera_off"`
	IsSpeakerMuted bool                   `json:"is_speaker_muted"`
	IsUIMinimized  bool                   `json:"is_ui_minimized"`
}

func NewSessionView(s app.CallSession, now time.Time) SessionView {
	v := SessionView{
		CallID:         s.CallID,
		ChatID:         s.ChatID,
		ChannelName:    s.ChannelName,
		CallType:       s.CallType,
		IsCaller:       s.IsCaller,
		PeerUserID:     s.PeerUserID,
		State:          s.State,
		ElapsedMs:      s.Elapsed(now).Milliseconds(),
		MediaJoined:    s.MediaJoined,
		ReceiveOnly:    s.ReceiveOnly,
		LocalAudio:     s.LocalAudioTrack != nil,
		LocalVideo:     s.LocalVideoTrack != nil,
		RemoteAudio:    lo.Keys(s.RemoteAudioTracks),
		RemoteVideo:    lo.Keys(s.RemoteVideoTracks),
		IsMuted:        s.IsMuted,
		IsCameraOff:    s.IsCameraOff,
		IsSpeakerMuted: s.IsSpeakerMuted,
		IsUIMinimized:  s.IsUIMinimized,
	}
	if !s.StartedAt.IsZero() {
		v.StartedAtMs = s.StartedAt.UnixMilli()
	}
	slices.Sort(v.RemoteAudio)
	slices.Sort(v.RemoteVideo)
	return v
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control API only listens on the local machine.
	CheckOrigin: func(*stdhttp.Request) bool { return true },
}

const stateWriteWait = 5 * time.Second

// streamState sends the current session, then every change and every
// alert, until the client goes away or ctx ends. Alerts go out as
// {"alert": ...} frames.
func streamState(ctx context.Context, c *gin.Context, calls CallService, states StateSource, alerts *Alerts) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	defer ws.Close()

	updates := make(chan app.CallSession, 1)
	unsubscribe := states.Subscribe(func(s app.CallSession) {
		// Keep only the newest snapshot when the client is slow.
		select {
		case updates <- s:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	raised := make(chan AlertView, 8)
	unsubscribeAlerts := alerts.Subscribe(func(v AlertView) {
		select {
		case raised <- v:
		default:
			log.Warn().Str("module", "adapters.http").Msg("state stream slow, alert dropped")
		}
	})
	defer unsubscribeAlerts()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(stateWriteWait))
		return ws.WriteJSON(v) == nil
	}
	if !write(NewSessionView(calls.State(), time.Now())) {
		return
	}
	for {
		select {
		case s := <-updates:
			if !write(NewSessionView(s, time.Now())) {
				return
			}
		case a := <-raised:
			if !write(gin.H{"alert": a}) {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(time.Second))
			return
		}
	}
}
