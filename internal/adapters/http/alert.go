package http

import (
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

// AlertView is a call alert as the UI sees it.
type AlertView struct {
	Kind  domain.ErrorKind `json:"kind"`
	Error string           `json:"error"`
	AtMs  int64            `json:"at_ms"`
}

// Alerts keeps the latest call alert and pushes new ones to state streams.
type Alerts struct {
	mu   sync.Mutex
	last *AlertView
	subs map[int]func(AlertView)
	next int
	now  func() time.Time
}

func NewAlerts() *Alerts {
	return &Alerts{subs: make(map[int]func(AlertView)), now: time.Now}
}

// Raise records err; it has the shape of the controller's alert callback.
func (a *Alerts) Raise(err error) {
	if err == nil {
		return
	}
	v := AlertView{Kind: domain.KindOf(err), Error: err.Error(), AtMs: a.now().UnixMilli()}

	a.mu.Lock()
	a.last = &v
	subs := make([]func(AlertView), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	log.Warn().Str("module", "adapters.http").Str("kind", string(v.Kind)).Err(err).Msg("call alert")
	for _, fn := range subs {
		fn(v)
	}
}

func (a *Alerts) Last() (AlertView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return AlertView{}, false
	}
	return *a.last, true
}

// Subscribe registers fn for alerts raised from now on. fn must not block.
func (a *Alerts) Subscribe(fn func(AlertView)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}
