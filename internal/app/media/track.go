package media

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateDisabled
	TrackStateReleased
)

// trackHandle owns one captured track. Stop and Close on the device track
// happen at most once no matter how many paths release the handle.
type trackHandle struct {
	inner   core.LocalTrack
	state   atomic.Int32 // Zero by default (TrackStateLive)
	metrics *metrics.Metrics

	once     sync.Once
	closeErr error
}

func newTrackHandle(inner core.LocalTrack, m *metrics.Metrics) *trackHandle {
	return &trackHandle{inner: inner, metrics: m}
}

func (h *trackHandle) ID() string             { return h.inner.ID() }
func (h *trackHandle) Kind() domain.MediaKind { return h.inner.Kind() }

func (h *trackHandle) GetState() TrackState {
	return TrackState(h.state.Load())
}

func (h *trackHandle) SetEnabled(enabled bool) {
	next := TrackStateDisabled
	if enabled {
		next = TrackStateLive
	}
	for {
		cur := h.state.Load()
		if TrackState(cur) == TrackStateReleased {
			return
		}
		if h.state.CompareAndSwap(cur, int32(next)) {
			h.inner.SetEnabled(enabled)
			return
		}
	}
}

func (h *trackHandle) Enabled() bool {
	return h.GetState() == TrackStateLive
}

func (h *trackHandle) Stop() { h.release() }

func (h *trackHandle) Close() error { return h.release() }

// Released reports whether the device track has been stopped and closed.
func (h *trackHandle) Released() bool {
	return h.GetState() == TrackStateReleased
}

func (h *trackHandle) release() error {
	h.once.Do(func() {
		h.state.Store(int32(TrackStateReleased))
		h.inner.Stop()
		h.closeErr = h.inner.Close()
		h.metrics.TrackReleased()
	})
	return h.closeErr
}

// Unwrap returns the device track for the media transport.
func (h *trackHandle) Unwrap() core.LocalTrack { return h.inner }

func unwrap(tracks []core.LocalTrack) []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(tracks))
	for _, t := range tracks {
		if h, ok := t.(*trackHandle); ok {
			out = append(out, h.inner)
			continue
		}
		out = append(out, t)
	}
	return out
}
