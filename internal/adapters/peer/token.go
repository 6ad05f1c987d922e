package peer

import (
	"context"
	"time"

	"github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// tokenExpiry reads exp from a JWT without verifying it; the gateway does
// the verification. Opaque tokens report false.
func tokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (c *Client) scheduleRenewal(token string) {
	exp, ok := tokenExpiry(token)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.renew != nil {
		c.renew.Stop()
		c.renew = nil
	}
	if !ok {
		return
	}
	wait := time.Until(exp) - c.cfg.RenewMargin
	if wait < 0 {
		wait = 0
	}
	c.renew = time.AfterFunc(wait, func() { c.renewToken("scheduled") })
}

// renewToken fetches a fresh token and hands it to the live connection.
func (c *Client) renewToken(trigger string) {
	c.mu.Lock()
	fetch, conn := c.fetch, c.conn
	c.mu.Unlock()
	if fetch == nil || conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LoginTimeout)
	defer cancel()
	token, err := fetch(ctx)
	if err == nil {
		err = conn.SendJSON(frame{Type: frameRenewToken, Token: token})
	}
	c.metrics.TokenRenewal(trigger, err)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("trigger", trigger).Msg("token renewal failed")
		return
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.scheduleRenewal(token)
	log.Info().Str("module", "peer").Str("trigger", trigger).Msg("token renewed")
}

// relogin handles an expired token: fresh token, new connection.
func (c *Client) relogin(conn *signal.Conn) {
	c.mu.Lock()
	fetch := c.fetch
	current := c.conn == conn
	if current {
		c.conn = nil
		c.token = ""
	}
	c.mu.Unlock()
	if !current {
		return
	}
	conn.Close()

	var err error
	if fetch == nil {
		err = errNoCredentials
	} else {
		err = c.ensure(context.Background(), c.cfg.MaxAttempts)
	}
	c.metrics.TokenRenewal("reactive", err)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("reconnect after token expiry failed")
	}
}
