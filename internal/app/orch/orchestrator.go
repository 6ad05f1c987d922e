// Package orch drives the call state machine. All session mutations run on
// one goroutine (Run); signals, timers, media events and user actions reach
// it as queued closures.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/media"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
	"github.com/rs/zerolog/log"
)

var errStopped = errors.New("call controller stopped")

// MediaSession is the part of the media manager the controller drives.
type MediaSession interface {
	JoinAudio(ctx context.Context, req media.JoinRequest) (media.JoinResult, error)
	JoinVideo(ctx context.Context, req media.JoinRequest) (media.JoinResult, error)
	Leave(ctx context.Context, tracks ...core.LocalTrack) error
	Release(t core.LocalTrack) error
}

// Signaler delivers one signal on every channel it knows.
type Signaler interface {
	Send(ctx context.Context, to domain.UserID, sig domain.Signal) app.SendResult
}

type Options struct {
	Self    domain.UserID
	Config  config.CallConfig
	Store   *app.Store
	Media   MediaSession
	Signals Signaler
	// Backend may be nil; ids are then generated locally.
	Backend core.Backend
	Limiter *app.InviteLimiter
	Metrics *metrics.Metrics
}

type outbound struct {
	to  domain.UserID
	sig domain.Signal
}

type Controller struct {
	self    domain.UserID
	cfg     config.CallConfig
	store   *app.Store
	media   MediaSession
	signals Signaler
	backend core.Backend
	limiter *app.InviteLimiter
	metrics *metrics.Metrics
	now     func() time.Time

	events  chan func()
	outbox  chan outbound
	stopped chan struct{}
	runCtx  context.Context

	alertMu sync.Mutex
	alert   func(error)

	// Loop-owned state.
	expiry     *time.Timer
	expirySeq  uint64
	notice     *time.Timer
	joinCancel context.CancelFunc
	joinCallID domain.CallID
	finished   *recentCalls
}

func New(opts Options) *Controller {
	return &Controller{
		self:     opts.Self,
		cfg:      opts.Config,
		store:    opts.Store,
		media:    opts.Media,
		signals:  opts.Signals,
		backend:  opts.Backend,
		limiter:  opts.Limiter,
		metrics:  opts.Metrics,
		now:      time.Now,
		events:   make(chan func(), 64),
		outbox:   make(chan outbound, 64),
		stopped:  make(chan struct{}),
		runCtx:   context.Background(),
		finished: newRecentCalls(32),
	}
}

// OnAlert registers the sink for errors the user must see, currently only
// capture permission denial.
func (c *Controller) OnAlert(fn func(error)) {
	c.alertMu.Lock()
	c.alert = fn
	c.alertMu.Unlock()
}

func (c *Controller) raise(err error) {
	c.alertMu.Lock()
	fn := c.alert
	c.alertMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Run processes events until ctx is done; an active call is torn down on
// the way out.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	go c.sendLoop(context.WithoutCancel(ctx))
	defer close(c.stopped)

	log.Info().Str("module", "orch").Str("user", string(c.self)).Msg("call controller started")
	for {
		select {
		case <-ctx.Done():
			c.drain()
			c.end("shutdown")
			log.Info().Str("module", "orch").Msg("call controller stopped")
			return ctx.Err()
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Controller) drain() {
	for {
		select {
		case fn := <-c.events:
			fn()
		default:
			return
		}
	}
}

// post queues fn on the loop. It must never be called from the loop itself.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.stopped:
	}
}

// exec runs fn on the loop and waits for its result.
func (c *Controller) exec(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.events <- func() { errc <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return errStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return errStopped
	}
}

func (c *Controller) State() app.CallSession { return c.store.State() }

// Elapsed is the duration of the live call, zero before it started.
func (c *Controller) Elapsed() time.Duration {
	return c.store.State().Elapsed(c.now())
}

func (c *Controller) nowMillis() time.Time {
	return time.UnixMilli(c.now().UnixMilli())
}

// signal queues sig for every channel. Sends never block the loop and keep
// the order they were issued in.
func (c *Controller) signal(to domain.UserID, sig domain.Signal) {
	if to == "" || c.signals == nil {
		return
	}
	select {
	case c.outbox <- outbound{to: to, sig: sig}:
	default:
		log.Warn().Str("module", "orch").Str("type", string(sig.Type)).Msg("outbox full, signal dropped")
	}
}

func (c *Controller) sendLoop(ctx context.Context) {
	send := func(o outbound) {
		res := c.signals.Send(ctx, o.to, o.sig)
		if !res.Any() {
			log.Warn().
				Str("module", "orch").
				Str("type", string(o.sig.Type)).
				Str("call_id", string(o.sig.CallID)).
				Str("to", string(o.to)).
				Msg("signal not delivered on any channel")
		}
	}
	for {
		select {
		case o := <-c.outbox:
			send(o)
		case <-c.stopped:
			for {
				select {
				case o := <-c.outbox:
					send(o)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) startExpiry(id domain.CallID) {
	c.cancelExpiry()
	seq := c.expirySeq
	c.expiry = time.AfterFunc(c.cfg.Expiry, func() {
		c.post(func() {
			if c.expirySeq != seq {
				return
			}
			c.expire(id)
		})
	})
}

// cancelExpiry also invalidates a callback that already fired but has not
// reached the loop yet.
func (c *Controller) cancelExpiry() {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.expirySeq++
}

func (c *Controller) stopNotice() {
	if c.notice != nil {
		c.notice.Stop()
		c.notice = nil
	}
}

func (c *Controller) expire(id domain.CallID) {
	st := c.store.State()
	if st.CallID != id || !st.State.Pending() {
		return
	}
	log.Info().
		Str("module", "orch").
		Str("call_id", string(id)).
		Str("state", string(st.State)).
		Msg("call expired without answer")
	if st.IsCaller {
		c.notifyBackendEnd(id)
	}
	c.teardown("expired")
}

// reject shows the rejected state for RejectNotice, then tears down.
func (c *Controller) reject(st app.CallSession) {
	c.cancelExpiry()
	c.store.Update(func(cs *app.CallSession) { cs.State = domain.StateRejected })
	c.stopNotice()
	id := st.CallID
	c.notice = time.AfterFunc(c.cfg.RejectNotice, func() {
		c.post(func() {
			cur := c.store.State()
			if cur.CallID == id && cur.State == domain.StateRejected {
				c.teardown("rejected")
			}
		})
	})
}

// end is the local hang-up: tell the backend and the peer, then clean up.
func (c *Controller) end(outcome string) {
	st := c.store.State()
	if st.Idle() {
		return
	}
	c.cancelExpiry()
	if st.State != domain.StateRejected {
		c.signal(st.PeerUserID, domain.EndSignal(st.CallID))
	}
	c.notifyBackendEnd(st.CallID)
	c.teardown(outcome)
}

// teardown releases every media resource of the session and resets the
// store. Tracks are closed before the state goes back to idle.
func (c *Controller) teardown(outcome string) {
	c.cancelExpiry()
	c.stopNotice()
	c.cancelJoin()

	st := c.store.State()
	if st.Idle() {
		return
	}
	logger := log.With().
		Str("module", "orch").
		Str("call_id", string(st.CallID)).
		Logger()

	leaveTimeout := c.cfg.LeaveTimeout
	if leaveTimeout <= 0 {
		leaveTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := c.media.Leave(ctx, st.LocalTracks()...); err != nil {
		logger.Warn().Err(err).Msg("media leave finished with errors")
	}
	for _, t := range st.RemoteAudioTracks {
		t.Stop()
	}
	for _, t := range st.RemoteVideoTracks {
		t.Stop()
	}

	c.finished.add(st.CallID)
	c.metrics.CallFinished(role(st), outcome)
	c.store.Reset()
	logger.Info().
		Str("outcome", outcome).
		Dur("elapsed", st.Elapsed(c.now())).
		Msg("call finished")
}

func (c *Controller) notifyBackendEnd(id domain.CallID) {
	if c.backend == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.runCtx), c.sendTimeout())
		defer cancel()
		if err := c.backend.EndCall(ctx, id); err != nil {
			log.Warn().Err(err).
				Str("module", "orch").
				Str("call_id", string(id)).
				Msg("backend end-call failed")
		}
	}()
}

func (c *Controller) sendTimeout() time.Duration {
	if c.cfg.SendTimeout > 0 {
		return c.cfg.SendTimeout
	}
	return 5 * time.Second
}

func role(st app.CallSession) string {
	if st.IsCaller {
		return "caller"
	}
	return "callee"
}

// recentCalls remembers ids of finished calls so that a late duplicate
// invite from the slower channel does not ring again.
type recentCalls struct {
	ids  []domain.CallID
	set  map[domain.CallID]struct{}
	next int
}

func newRecentCalls(size int) *recentCalls {
	return &recentCalls{
		ids: make([]domain.CallID, size),
		set: make(map[domain.CallID]struct{}, size),
	}
}

func (r *recentCalls) add(id domain.CallID) {
	if _, ok := r.set[id]; ok {
		return
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
}

func (r *recentCalls) has(id domain.CallID) bool {
	_, ok := r.set[id]
	return ok
}
