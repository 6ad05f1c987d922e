// Package signal holds the client websocket plumbing shared by the peer
// channel, the broadcast channel and the media room signaling.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Frame []byte

type Options struct {
	Header     http.Header
	PingPeriod time.Duration
	ReadLimit  int64
	WriteWait  time.Duration
	SendBuffer int
	// Module tags log lines of this connection.
	Module string
}

func (o Options) withDefaults() Options {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.Module == "" {
		o.Module = "signal"
	}
	return o
}

// Conn is a client websocket with a dedicated writer goroutine. All writes
// go through TrySend, so there is never more than one concurrent writer.
type Conn struct {
	conn *websocket.Conn
	send chan Frame
	opts Options

	mu     sync.RWMutex
	closed bool

	done    chan struct{}
	errOnce sync.Once
	err     error
}

func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{
		conn: ws,
		send: make(chan Frame, opts.SendBuffer),
		opts: opts,
		done: make(chan struct{}),
	}, nil
}

// Start runs the read and write pumps. onFrame is called from the read
// goroutine for every text or binary message.
func (c *Conn) Start(ctx context.Context, onFrame func(Frame)) {
	ctx, cancel := context.WithCancel(ctx)
	go c.writePump(ctx)
	go func() {
		defer cancel()
		c.readPump(ctx, onFrame)
	}()
}

func (c *Conn) TrySend(f Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

// Done is closed once the read side has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection stopped reading, nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close stops accepting frames. Frames already queued are flushed by the
// writer before the socket is closed.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	// The writer closes the socket; this covers a writer that already quit.
	time.AfterFunc(c.opts.WriteWait, func() { _ = c.conn.Close() })
	c.finish(ErrClosed)
}

func (c *Conn) finish(err error) {
	c.errOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Unmarshal decodes a frame with the same codec the connection writes with.
func Unmarshal(f Frame, v any) error {
	return json.Unmarshal(f, v)
}

// Marshal is the encoding counterpart of Unmarshal.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *Conn) logger() *zerolog.Logger {
	l := log.With().Str("module", c.opts.Module).Logger()
	return &l
}
