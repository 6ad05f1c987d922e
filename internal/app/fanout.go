package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SendResult reports per-channel delivery of one signal.
type SendResult struct {
	Delivered []string
	Failed    map[string]error
}

// Any reports whether at least one channel accepted the signal.
func (r SendResult) Any() bool { return len(r.Delivered) > 0 }

// Dispatcher sends every signal on all registered transports. Each transport
// runs in its own goroutine with its own deadline; a failing or panicking
// transport never affects the others.
type Dispatcher struct {
	timeout time.Duration
	metrics *metrics.Metrics

	mu         sync.RWMutex
	transports []core.SignalTransport
}

func NewDispatcher(timeout time.Duration, m *metrics.Metrics, transports ...core.SignalTransport) *Dispatcher {
	d := &Dispatcher{timeout: timeout, metrics: m}
	for _, t := range transports {
		d.Add(t)
	}
	return d
}

// Add registers a transport; nil is ignored so an absent peer channel needs
// no special casing at the call site.
func (d *Dispatcher) Add(t core.SignalTransport) {
	if t == nil {
		return
	}
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
}

func (d *Dispatcher) Send(ctx context.Context, to domain.UserID, sig domain.Signal) SendResult {
	d.mu.RLock()
	transports := make([]core.SignalTransport, len(d.transports))
	copy(transports, d.transports)
	d.mu.RUnlock()

	res := SendResult{Failed: make(map[string]error)}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, t := range transports {
		g.Go(func() error {
			err := d.sendOne(ctx, t, to, sig)
			d.metrics.SignalSent(t.Name(), string(sig.Type), err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[t.Name()] = err
				log.Warn().Err(err).
					Str("module", "app.fanout").
					Str("channel", t.Name()).
					Str("type", string(sig.Type)).
					Str("call_id", string(sig.CallID)).
					Msg("signal send failed")
				return nil
			}
			res.Delivered = append(res.Delivered, t.Name())
			return nil
		})
	}
	_ = g.Wait()

	log.Debug().
		Str("module", "app.fanout").
		Str("type", string(sig.Type)).
		Str("to", string(to)).
		Strs("delivered", res.Delivered).
		Int("failed", len(res.Failed)).
		Msg("signal fan-out result")
	return res
}

func (d *Dispatcher) sendOne(ctx context.Context, t core.SignalTransport, to domain.UserID, sig domain.Signal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport %s panicked: %v", t.Name(), r)
		}
	}()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return t.Send(ctx, to, sig)
}
