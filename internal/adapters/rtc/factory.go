package rtc

import (
	"github.com/dkeye/voicecall/internal/core"
	"github.com/pion/webrtc/v4"
)

// Factory hands out rooms sharing one webrtc API.
type Factory struct {
	cfg RoomConfig
	api *webrtc.API
}

func NewFactory(cfg RoomConfig, populate CodecPopulator) (*Factory, error) {
	api, err := NewAPI(populate)
	if err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, api: api}, nil
}

func (f *Factory) NewRoom() core.RoomConnection {
	return NewRoom(f.cfg, f.api)
}
