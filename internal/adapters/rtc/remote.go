package rtc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink renders the RTP of one remote track.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

type discardSink struct{}

func (discardSink) WriteRTP(*rtp.Packet) error { return nil }
func (discardSink) Close() error               { return nil }

// NewSink records a remote track under dir, opus into ogg and vp8 into ivf.
// An empty dir discards the media.
func NewSink(dir string, uid domain.ParticipantID, kind domain.MediaKind) (Sink, error) {
	if dir == "" {
		return discardSink{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	stamp := time.Now().UnixMilli()
	switch kind {
	case domain.MediaAudio:
		return oggwriter.New(filepath.Join(dir, fmt.Sprintf("%s-%d.ogg", uid, stamp)), 48000, 2)
	case domain.MediaVideo:
		return ivfwriter.New(filepath.Join(dir, fmt.Sprintf("%s-%d.ivf", uid, stamp)))
	default:
		return nil, fmt.Errorf("no sink for %q", kind)
	}
}

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	SetReadDeadline(t time.Time) error
	SSRC() webrtc.SSRC
}

type rtcpWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// RemoteTrack pumps packets of a subscribed track into its sink. Volume 0
// drops audio packets instead of writing them.
type RemoteTrack struct {
	src  rtpSource
	fb   rtcpWriter
	sink Sink
	uid  domain.ParticipantID
	kind domain.MediaKind
	id   string

	volume atomic.Int32

	playOnce sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newRemoteTrack(id string, uid domain.ParticipantID, kind domain.MediaKind, src rtpSource, fb rtcpWriter, sink Sink) *RemoteTrack {
	t := &RemoteTrack{
		src:  src,
		fb:   fb,
		sink: sink,
		uid:  uid,
		kind: kind,
		id:   id,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.volume.Store(100)
	return t
}

func (t *RemoteTrack) ID() string                        { return t.id }
func (t *RemoteTrack) Kind() domain.MediaKind            { return t.kind }
func (t *RemoteTrack) Participant() domain.ParticipantID { return t.uid }

func (t *RemoteTrack) SetVolume(volume int) {
	t.volume.Store(int32(min(max(volume, 0), 100)))
}

func (t *RemoteTrack) Volume() int { return int(t.volume.Load()) }

func (t *RemoteTrack) Play() error {
	select {
	case <-t.stop:
		return errors.New("remote track stopped")
	default:
	}
	t.playOnce.Do(func() {
		if t.kind == domain.MediaVideo && t.fb != nil {
			// Ask for a keyframe so rendering starts without waiting for one.
			if err := t.fb.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(t.src.SSRC())}}); err != nil {
				log.Warn().Err(err).Str("module", "rtc").Str("uid", t.uid.String()).Msg("PLI write failed")
			}
		}
		logger := log.With().Str("module", "rtc").Str("uid", t.uid.String()).Str("kind", string(t.kind)).Logger()
		go t.loop(&logger)
	})
	return nil
}

// loop reads RTP packets from the source and writes them to the sink.
func (t *RemoteTrack) loop(logger *zerolog.Logger) {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		pkt, _, err := t.src.ReadRTP()
		if err != nil {
			select {
			case <-t.stop:
			default:
				logger.Info().Err(err).Msg("remote read RTP stopped")
			}
			return
		}
		if t.kind == domain.MediaAudio && t.volume.Load() == 0 {
			continue
		}
		if err := t.sink.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("sink write RTP error, stopping")
			return
		}
	}
}

// Stop ends playback and closes the sink. Safe to call more than once.
func (t *RemoteTrack) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		// Unblocks a pending ReadRTP.
		_ = t.src.SetReadDeadline(time.Now())
		// A track that never played has no loop to wait for.
		t.playOnce.Do(func() { close(t.done) })
		select {
		case <-t.done:
		case <-time.After(time.Second):
		}
		if err := t.sink.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("uid", t.uid.String()).Msg("sink close")
		}
	})
}
