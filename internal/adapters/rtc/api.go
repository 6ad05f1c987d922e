package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// CodecPopulator registers the codecs of a capture pipeline on a media
// engine. Nil means the pion defaults.
type CodecPopulator func(m *webrtc.MediaEngine)

// NewAPI builds the webrtc API with default interceptors plus a periodic
// PLI sender for received video.
func NewAPI(populate CodecPopulator) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if populate != nil {
		populate(m)
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	registry.Add(pli)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func Configuration(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}
