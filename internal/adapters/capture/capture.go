// Package capture opens the local microphone and camera.
package capture

import (
	"errors"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	MaxWidth     int
	MaxHeight    int
	VideoBitRate int
}

func (c Config) withDefaults() Config {
	if c.MaxWidth <= 0 {
		c.MaxWidth = 640
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = 480
	}
	if c.VideoBitRate <= 0 {
		c.VideoBitRate = 1_500_000
	}
	return c
}

// Track is a captured device track. It is published as a webrtc.TrackLocal;
// disabling it swaps it out of its sender so nothing is sent.
type Track struct {
	src  mediadevices.Track
	kind domain.MediaKind

	enabled atomic.Bool
	mu      sync.Mutex
	sender  *webrtc.RTPSender
	stopped bool
}

func newTrack(src mediadevices.Track, kind domain.MediaKind) *Track {
	t := &Track{src: src, kind: kind}
	t.enabled.Store(true)
	src.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "capture").Str("kind", string(kind)).Msg("local track ended")
		}
	})
	return t
}

func (t *Track) ID() string                    { return t.src.ID() }
func (t *Track) Kind() domain.MediaKind        { return t.kind }
func (t *Track) Enabled() bool                 { return t.enabled.Load() }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.src }

func (t *Track) BindSender(sender *webrtc.RTPSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
	if !t.Enabled() {
		t.swap(false)
	}
}

func (t *Track) SetEnabled(enabled bool) {
	if t.enabled.Swap(enabled) == enabled {
		return
	}
	t.swap(enabled)
}

func (t *Track) swap(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sender == nil || t.stopped {
		return
	}
	var next webrtc.TrackLocal
	if enabled {
		next = t.src
	}
	if err := t.sender.ReplaceTrack(next); err != nil {
		log.Warn().Err(err).Str("module", "capture").Str("kind", string(t.kind)).Msg("replace track")
	}
}

// Stop detaches the track from its sender. Close releases the device.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.sender != nil {
		_ = t.sender.ReplaceTrack(nil)
	}
}

func (t *Track) Close() error {
	t.Stop()
	return t.src.Close()
}

// classify maps a device error onto the call error kinds: refusals are
// permission denied, everything else makes the device unusable for now.
func classify(kind domain.MediaKind, err error) error {
	if err == nil {
		return nil
	}
	op := "capture " + string(kind)
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return domain.NewError(domain.KindPermissionDenied, op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"permission denied", "not allowed", "operation not permitted"} {
		if strings.Contains(msg, s) {
			return domain.NewError(domain.KindPermissionDenied, op, err)
		}
	}
	return domain.NewError(domain.KindDeviceBusy, op, err)
}
