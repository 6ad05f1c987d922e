package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *[]string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var ended []string

	auth := func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer secret" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
	api := r.Group("/api", auth)
	api.POST("/calls", func(c *gin.Context) {
		var req struct {
			ChatID string `json:"chat_id"`
			Type   string `json:"type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Type != "video" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"call_id": "c-1", "channel_name": "chat_" + req.ChatID})
	})
	api.POST("/calls/:id/join", func(c *gin.Context) {
		if c.Param("id") != "c-1" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such call"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": "rtc", "channel_name": "chat_9", "uid": 1001, "chat_id": "9"})
	})
	api.POST("/calls/:id/end", func(c *gin.Context) {
		ended = append(ended, c.Param("id"))
		c.Status(http.StatusNoContent)
	})
	api.GET("/relay/token", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": "relay-jwt"})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &ended
}

func TestClientRoundTrips(t *testing.T) {
	srv, ended := newServer(t)
	c := New(Config{URL: srv.URL + "/", Token: "secret"})
	ctx := context.Background()

	alloc, err := c.CreateCall(ctx, "9", domain.CallVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("c-1"), alloc.CallID)
	assert.Equal(t, domain.ChannelName("chat_9"), alloc.ChannelName)

	creds, err := c.JoinCall(ctx, alloc.CallID)
	require.NoError(t, err)
	assert.Equal(t, "rtc", creds.Token)
	assert.Equal(t, domain.ParticipantID(1001), creds.UID)
	assert.Equal(t, domain.ChatID("9"), creds.ChatID)

	require.NoError(t, c.EndCall(ctx, alloc.CallID))
	assert.Equal(t, []string{"c-1"}, *ended)

	tok, err := c.FetchRelayToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "relay-jwt", tok)
}

func TestClientErrorsAreBackendFailures(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	_, err := New(Config{URL: srv.URL, Token: "wrong"}).FetchRelayToken(ctx)
	require.Error(t, err)
	assert.Equal(t, domain.KindBackendFailure, domain.KindOf(err))
	assert.Contains(t, err.Error(), "unauthorized")

	_, err = New(Config{URL: srv.URL, Token: "secret"}).JoinCall(ctx, "c-2")
	assert.Contains(t, err.Error(), "no such call")

	_, err = New(Config{URL: srv.URL, Token: "secret"}).CreateCall(ctx, "9", domain.CallAudio)
	assert.Equal(t, domain.KindBackendFailure, domain.KindOf(err))
}
