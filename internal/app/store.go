package app

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Store is the in-memory holder of the current call session.
// One writer (the call controller) and any number of readers.
type Store struct {
	mu    sync.RWMutex
	state CallSession

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(CallSession)
}

func NewStore() *Store {
	return &Store{
		state: idleSession(),
		subs:  make(map[int]func(CallSession)),
	}
}

func (s *Store) State() CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Update applies fn to a copy of the session, stores it and notifies
// subscribers before returning.
func (s *Store) Update(fn func(*CallSession)) CallSession {
	s.mu.Lock()
	next := s.state.clone()
	fn(&next)
	s.state = next
	snap := next.clone()
	s.mu.Unlock()

	s.notify(snap)
	return snap
}

// Reset drops the session, including track references. Closing the tracks
// is the media manager's job and must already have happened.
func (s *Store) Reset() {
	s.mu.Lock()
	prev := s.state.CallID
	s.state = idleSession()
	snap := s.state.clone()
	s.mu.Unlock()

	log.Debug().Str("module", "app.store").Str("call_id", string(prev)).Msg("session reset")
	s.notify(snap)
}

// Subscribe registers fn for every change; the returned func unregisters it.
// fn runs on the writer's goroutine and must not call Update.
func (s *Store) Subscribe(fn func(CallSession)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify(snap CallSession) {
	s.subMu.Lock()
	fns := make([]func(CallSession), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
