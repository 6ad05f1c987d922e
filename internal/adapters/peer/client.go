// Package peer is the direct, identity-addressed signaling channel. It is
// optional: every failure here leaves the broadcast channel in charge.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	errLoginTimeout  = fmt.Errorf("peer login: %w", context.DeadlineExceeded)
	errNoCredentials = errors.New("peer channel never configured")
)

type Config struct {
	URL          string
	AppID        string
	MaxAttempts  int
	BackoffBase  time.Duration
	LoginTimeout time.Duration
	// RenewMargin is how long before the token's exp a renewal is sent.
	RenewMargin time.Duration
	PingPeriod  time.Duration
	ReadLimit   int64
}

type Client struct {
	cfg     Config
	metrics *metrics.Metrics
	group   singleflight.Group
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	conn      *signal.Conn
	self      domain.UserID
	token     string
	fetch     core.TokenFetcher
	handlers  []core.SignalHandler
	pending   map[string]chan error
	loginWait chan error
	renew     *time.Timer
	// stopped is set by Disconnect and cleared by Connect.
	stopped bool
}

func New(cfg Config, m *metrics.Metrics) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		metrics: m,
		sleep:   sleepCtx,
		pending: make(map[string]chan error),
	}
}

func (c *Client) Name() string { return "peer" }

// OnMessage registers h for every inbound signal.
func (c *Client) OnMessage(h core.SignalHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.Closed()
}

// Connect logs in as self. Concurrent callers share one attempt. Timeouts
// are retried with exponential backoff; any other failure returns at once.
func (c *Client) Connect(ctx context.Context, self domain.UserID, token string, fetch core.TokenFetcher) error {
	c.mu.Lock()
	c.self = self
	c.fetch = fetch
	if token != "" {
		c.token = token
	}
	c.stopped = false
	c.mu.Unlock()

	return c.ensure(ctx, c.cfg.MaxAttempts)
}

func (c *Client) ensure(ctx context.Context, attempts int) error {
	if c.Connected() {
		return nil
	}
	ch := c.group.DoChan("connect", func() (any, error) {
		return nil, c.connectWithRetry(attempts)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connectWithRetry(attempts int) error {
	if c.Connected() {
		return nil
	}
	logger := log.With().Str("module", "peer").Logger()

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = c.login()
		c.metrics.PeerConnect(err)
		if err == nil {
			logger.Info().Int("attempt", attempt+1).Msg("peer channel connected")
			return nil
		}
		if !isTimeout(err) {
			logger.Warn().Err(err).Msg("peer login failed")
			return domain.NewError(domain.KindSignalingUnavailable, "peer connect", err)
		}
		if attempt == attempts-1 {
			break
		}
		delay := c.cfg.BackoffBase * time.Duration(1<<attempt)
		logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("peer login timed out, retrying")
		if serr := c.sleep(context.Background(), delay); serr != nil {
			break
		}
		if c.isStopped() {
			return domain.NewError(domain.KindSignalingUnavailable, "peer connect", errors.New("disconnected"))
		}
	}
	logger.Warn().Err(err).Int("attempts", attempts).Msg("peer channel unavailable, continuing on broadcast only")
	return domain.NewError(domain.KindSignalingUnavailable, "peer connect", err)
}

func (c *Client) login() error {
	c.mu.Lock()
	self, token, fetch := c.self, c.token, c.fetch
	c.mu.Unlock()
	if self == "" {
		return errNoCredentials
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LoginTimeout)
	defer cancel()

	if token == "" && fetch != nil {
		fresh, err := fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetch relay token: %w", err)
		}
		token = fresh
		c.mu.Lock()
		c.token = fresh
		c.mu.Unlock()
	}

	conn, err := signal.Dial(ctx, c.cfg.URL, signal.Options{
		PingPeriod: c.cfg.PingPeriod,
		ReadLimit:  c.cfg.ReadLimit,
		Module:     "peer.ws",
	})
	if err != nil {
		return fmt.Errorf("dial peer gateway: %w", err)
	}

	wait := make(chan error, 1)
	c.mu.Lock()
	c.loginWait = wait
	c.mu.Unlock()

	conn.Start(context.Background(), func(f signal.Frame) { c.onFrame(conn, f) })
	if err := conn.SendJSON(frame{Type: frameLogin, AppID: c.cfg.AppID, UID: self, Token: token}); err != nil {
		conn.Close()
		return err
	}

	select {
	case err = <-wait:
	case <-ctx.Done():
		err = errLoginTimeout
	case <-conn.Done():
		err = fmt.Errorf("peer gateway closed during login: %w", conn.Err())
	}
	c.mu.Lock()
	c.loginWait = nil
	c.mu.Unlock()
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return errors.New("disconnected during login")
	}
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.scheduleRenewal(token)
	go c.watch(conn)
	return nil
}

// watch reconnects when the gateway drops a connection we did not close.
func (c *Client) watch(conn *signal.Conn) {
	<-conn.Done()
	c.mu.Lock()
	current := c.conn == conn
	stopped := c.stopped
	if current {
		c.conn = nil
	}
	c.failPending(ErrDisconnected)
	c.mu.Unlock()
	if !current || stopped {
		return
	}
	log.Warn().Err(conn.Err()).Str("module", "peer").Msg("peer channel dropped, reconnecting")
	if err := c.ensure(context.Background(), c.cfg.MaxAttempts); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("peer channel reconnect failed")
	}
}

// ErrDisconnected fails sends that were waiting for an ack.
var ErrDisconnected = errors.New("peer channel disconnected")

func (c *Client) onFrame(conn *signal.Conn, data signal.Frame) {
	var f frame
	if err := signal.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("bad gateway frame")
		return
	}
	switch f.Type {
	case frameLoginOK, frameLoginError:
		c.mu.Lock()
		wait := c.loginWait
		c.mu.Unlock()
		if wait == nil {
			return
		}
		var err error
		if f.Type == frameLoginError {
			err = fmt.Errorf("peer login rejected: %s %s", f.Code, f.Error)
		}
		select {
		case wait <- err:
		default:
		}
	case frameMessage:
		if f.Payload == nil {
			return
		}
		c.mu.Lock()
		handlers := append([]core.SignalHandler(nil), c.handlers...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(f.From, *f.Payload)
		}
	case frameMessageAck:
		c.mu.Lock()
		ack, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if !ok {
			return
		}
		var err error
		if f.Error != "" {
			err = domain.NewError(domain.KindSignalingUnavailable, "peer send", errors.New(f.Error))
		}
		ack <- err
	case frameTokenWillExpire:
		go c.renewToken("proactive")
	case frameTokenExpired:
		go c.relogin(conn)
	default:
		log.Debug().Str("module", "peer").Str("type", f.Type).Msg("unknown gateway frame")
	}
}

// Send delivers sig to the peer and waits for the gateway ack. A missing
// connection gets one on-demand connect attempt.
func (c *Client) Send(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	c.mu.Lock()
	configured := c.self != ""
	c.mu.Unlock()
	if !configured {
		return domain.NewError(domain.KindSignalingUnavailable, "peer send", errNoCredentials)
	}
	if err := c.ensure(ctx, 1); err != nil {
		return err
	}

	id := uuid.NewString()
	ack := make(chan error, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return domain.ErrPeerUnavailable
	}
	c.pending[id] = ack
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	payload := sig
	if err := conn.SendJSON(frame{Type: frameMessage, ID: id, To: to, Payload: &payload}); err != nil {
		forget()
		return domain.NewError(domain.KindSignalingUnavailable, "peer send", err)
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		forget()
		return domain.NewError(domain.KindSignalingUnavailable, "peer send", ctx.Err())
	}
}

// Disconnect logs out and closes the connection. Safe to call repeatedly.
func (c *Client) Disconnect(context.Context) error {
	c.mu.Lock()
	if c.stopped && c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	conn := c.conn
	c.conn = nil
	if c.renew != nil {
		c.renew.Stop()
		c.renew = nil
	}
	c.failPending(ErrDisconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.SendJSON(frame{Type: frameLogout})
		conn.Close()
		log.Info().Str("module", "peer").Msg("peer channel logged out")
	}
	return nil
}

// failPending must be called with mu held.
func (c *Client) failPending(err error) {
	for id, ch := range c.pending {
		select {
		case ch <- err:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
