//go:build !linux

package capture

import (
	"context"
	"errors"

	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

var errNoDriver = errors.New("no capture driver on this platform")

// Capturer reports every device as unavailable, which keeps calls
// receive-only.
type Capturer struct{}

func New(Config) (*Capturer, error) { return &Capturer{}, nil }

// Codecs is nil here, so the room uses the pion default codecs.
func (c *Capturer) Codecs() rtc.CodecPopulator { return nil }

func (c *Capturer) Microphone(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, classify(domain.MediaAudio, errNoDriver)
}

func (c *Capturer) Camera(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, classify(domain.MediaVideo, errNoDriver)
}
