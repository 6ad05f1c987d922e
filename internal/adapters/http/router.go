package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// CallService is what the control API drives.
type CallService interface {
	State() app.CallSession
	StartCall(ctx context.Context, peer domain.UserID, chat domain.ChatID, typ domain.CallType) (domain.CallID, error)
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	End(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) (bool, error)
	ToggleSpeaker(ctx context.Context) (bool, error)
	SetMinimized(ctx context.Context, minimized bool) error
}

// StateSource pushes session snapshots to subscribers.
type StateSource interface {
	Subscribe(fn func(app.CallSession)) func()
}

// ClientTokenMiddleware tags each control client with a token kept in its
// session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("ct").(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set("ct", token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, calls CallService, states StateSource, alerts *Alerts, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Control.Secret
	if secret == "" {
		secret = uuid.NewString()
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions("VoiceCallSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.String(stdhttp.StatusOK, "ok") })
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	if alerts == nil {
		alerts = NewAlerts()
	}
	h := &handlers{calls: calls, alerts: alerts}
	api := r.Group("/api")
	api.GET("/call", h.state)
	api.POST("/call", h.start)
	api.POST("/call/accept", h.action(calls.Accept))
	api.POST("/call/reject", h.action(calls.Reject))
	api.POST("/call/end", h.action(calls.End))
	api.POST("/call/mute", h.toggle("muted", calls.ToggleMute))
	api.POST("/call/camera", h.toggle("camera_off", calls.ToggleCamera))
	api.POST("/call/speaker", h.toggle("speaker_muted", calls.ToggleSpeaker))
	api.POST("/call/minimize", h.minimize)
	api.GET("/alert", h.lastAlert)

	api.GET("/ws/state", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws state endpoint hit")
		streamState(ctx, c, calls, states, alerts)
	})

	log.Info().Str("module", "adapters.http").Int("port", cfg.Control.Port).Msg("router setup")
	return r
}

type handlers struct {
	calls  CallService
	alerts *Alerts
}

type startRequest struct {
	PeerUserID string `json:"peer_user_id" binding:"required"`
	ChatID     string `json:"chat_id" binding:"required"`
	Type       string `json:"type" binding:"required,oneof=audio video"`
}

type minimizeRequest struct {
	Minimized *bool `json:"minimized" binding:"required"`
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, NewSessionView(h.calls.State(), time.Now()))
}

func (h *handlers) lastAlert(c *gin.Context) {
	v, ok := h.alerts.Last()
	if !ok {
		c.Status(stdhttp.StatusNoContent)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"alert": v})
}

func (h *handlers) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.calls.StartCall(c.Request.Context(), domain.UserID(req.PeerUserID), domain.ChatID(req.ChatID), domain.CallType(req.Type))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"call_id": id})
}

func (h *handlers) action(fn func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(stdhttp.StatusOK, NewSessionView(h.calls.State(), time.Now()))
	}
}

func (h *handlers) toggle(field string, fn func(context.Context) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := fn(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(stdhttp.StatusOK, gin.H{field: v})
	}
}

func (h *handlers) minimize(c *gin.Context) {
	var req minimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.calls.SetMinimized(c.Request.Context(), *req.Minimized); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"minimized": *req.Minimized})
}

func respondError(c *gin.Context, err error) {
	status := stdhttp.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = stdhttp.StatusServiceUnavailable
	case domain.KindOf(err) == domain.KindInvalidState:
		status = stdhttp.StatusConflict
	case domain.KindOf(err) == domain.KindPermissionDenied:
		status = stdhttp.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": domain.KindOf(err)})
}
