// Package broadcast is the relay-backed signaling channel. The chat server
// routes a command to every session of the target user, so it is the
// channel of record for call signaling.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Relay actions.
const (
	ActionInvite = "calls.invite"
	ActionAccept = "calls.accept"
	ActionReject = "calls.reject"
	ActionEnd    = "calls.end"
	actionError  = "error"
)

var actionBySignal = map[domain.SignalType]string{
	domain.SignalInvite: ActionInvite,
	domain.SignalAccept: ActionAccept,
	domain.SignalReject: ActionReject,
	domain.SignalEnd:    ActionEnd,
}

// Packet is the relay's command envelope.
type Packet struct {
	Action  string        `json:"w"`
	Message string        `json:"m,omitempty"`
	Payload *CallEnvelope `json:"p,omitempty"`
}

type CallEnvelope struct {
	To    domain.UserID  `json:"to,omitempty"`
	From  domain.UserID  `json:"from,omitempty"`
	Event *domain.Signal `json:"event"`
}

type Config struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
	PingPeriod     time.Duration
	ReadLimit      int64
}

type Client struct {
	cfg Config

	mu       sync.Mutex
	conn     *signal.Conn
	ready    chan struct{}
	handlers map[string][]core.SignalHandler
}

func New(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Client{
		cfg:      cfg,
		ready:    make(chan struct{}),
		handlers: make(map[string][]core.SignalHandler),
	}
}

func (c *Client) Name() string { return "broadcast" }

// Run keeps the relay connection open until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	logger := log.With().Str("module", "broadcast").Logger()
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("relay dial failed")
		} else {
			logger.Info().Msg("relay connected")
			select {
			case <-conn.Done():
				logger.Warn().Err(conn.Err()).Msg("relay connection lost")
			case <-ctx.Done():
			}
			c.detach(conn)
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*signal.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, err := signal.Dial(ctx, c.cfg.URL, signal.Options{
		Header:     header,
		PingPeriod: c.cfg.PingPeriod,
		ReadLimit:  c.cfg.ReadLimit,
		Module:     "broadcast.ws",
	})
	if err != nil {
		return nil, err
	}
	conn.Start(ctx, c.onFrame)

	c.mu.Lock()
	c.conn = conn
	close(c.ready)
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) detach(conn *signal.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.ready = make(chan struct{})
}

// Connected reports whether the relay socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send maps sig onto its relay action. While the relay reconnects the send
// waits for the connection until ctx expires.
func (c *Client) Send(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	action, ok := actionBySignal[sig.Type]
	if !ok {
		return fmt.Errorf("broadcast: unsupported signal %q", sig.Type)
	}
	return c.emit(ctx, action, to, sig)
}

func (c *Client) EmitInvite(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	return c.emit(ctx, ActionInvite, to, sig)
}

func (c *Client) EmitAccept(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	return c.emit(ctx, ActionAccept, to, sig)
}

func (c *Client) EmitReject(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	return c.emit(ctx, ActionReject, to, sig)
}

func (c *Client) EmitEnd(ctx context.Context, to domain.UserID, sig domain.Signal) error {
	return c.emit(ctx, ActionEnd, to, sig)
}

func (c *Client) emit(ctx context.Context, action string, to domain.UserID, sig domain.Signal) error {
	for {
		c.mu.Lock()
		conn, ready := c.conn, c.ready
		c.mu.Unlock()

		if conn != nil {
			err := conn.SendJSON(Packet{
				Action:  action,
				Payload: &CallEnvelope{To: to, Event: lo.ToPtr(sig)},
			})
			if !errors.Is(err, signal.ErrClosed) {
				return err
			}
			c.detach(conn)
			continue
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return fmt.Errorf("broadcast: relay not connected: %w", ctx.Err())
		}
	}
}

func (c *Client) OnInvite(h core.SignalHandler) { c.on(ActionInvite, h) }
func (c *Client) OnAccept(h core.SignalHandler) { c.on(ActionAccept, h) }
func (c *Client) OnReject(h core.SignalHandler) { c.on(ActionReject, h) }
func (c *Client) OnEnd(h core.SignalHandler)    { c.on(ActionEnd, h) }

// OnSignal registers h for every call action.
func (c *Client) OnSignal(h core.SignalHandler) {
	for _, action := range []string{ActionInvite, ActionAccept, ActionReject, ActionEnd} {
		c.on(action, h)
	}
}

func (c *Client) on(action string, h core.SignalHandler) {
	c.mu.Lock()
	c.handlers[action] = append(c.handlers[action], h)
	c.mu.Unlock()
}

func (c *Client) onFrame(data signal.Frame) {
	var p Packet
	if err := signal.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "broadcast").Msg("bad relay packet")
		return
	}
	if p.Action == actionError {
		log.Warn().Str("module", "broadcast").Str("message", p.Message).Msg("relay reported error")
		return
	}
	if p.Payload == nil || p.Payload.Event == nil {
		return
	}
	c.mu.Lock()
	handlers := append([]core.SignalHandler(nil), c.handlers[p.Action]...)
	c.mu.Unlock()
	if len(handlers) == 0 {
		log.Debug().Str("module", "broadcast").Str("action", p.Action).Msg("unhandled relay action")
		return
	}
	for _, h := range handlers {
		h(p.Payload.From, *p.Payload.Event)
	}
}
