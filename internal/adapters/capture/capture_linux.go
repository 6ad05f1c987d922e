//go:build linux

package capture

import (
	"context"
	"fmt"

	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Capturer opens devices through V4L2 and malgo, encoding VP8 and Opus.
type Capturer struct {
	cfg      Config
	selector *mediadevices.CodecSelector
}

func New(cfg Config) (*Capturer, error) {
	cfg = cfg.withDefaults()
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = cfg.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "capture").Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}

	return &Capturer{
		cfg: cfg,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Codecs registers the encoders on the media engine the room negotiates with.
func (c *Capturer) Codecs() rtc.CodecPopulator {
	return func(m *webrtc.MediaEngine) { c.selector.Populate(m) }
}

func (c *Capturer) Microphone(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
		Codec: c.selector,
	})
	if err != nil {
		return nil, classify(domain.MediaAudio, err)
	}
	return pick(stream.GetAudioTracks(), domain.MediaAudio)
}

func (c *Capturer) Camera(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras yield frames the VP8 encoder rejects.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: c.cfg.MaxWidth}
			mc.Height = prop.IntRanged{Max: c.cfg.MaxHeight}
		},
		Codec: c.selector,
	})
	if err != nil {
		return nil, classify(domain.MediaVideo, err)
	}
	return pick(stream.GetVideoTracks(), domain.MediaVideo)
}

func pick(tracks []mediadevices.Track, kind domain.MediaKind) (core.LocalTrack, error) {
	if len(tracks) == 0 {
		return nil, classify(kind, fmt.Errorf("no %s track in stream", kind))
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	return newTrack(tracks[0], kind), nil
}
