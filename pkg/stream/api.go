package stream

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

// keyframeInterval is how often the browser is asked for a keyframe so the
// decoder can recover after dropped packets.
const keyframeInterval = 2 * time.Second

// vp8Codec is the only video codec negotiated with browsers.
var vp8Codec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: "goog-remb"},
			{Type: "ccm", Parameter: "fir"},
			{Type: "nack"},
			{Type: "nack", Parameter: "pli"},
		},
	},
	PayloadType: 96,
}

// NewAPI builds a pion API limited to VP8 video with the default interceptors
// plus periodic PLI. A nil factory keeps pion's default logger.
func NewAPI(loggerFactory logging.LoggerFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(vp8Codec, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("stream: register vp8: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("stream: default interceptors: %w", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(keyframeInterval))
	if err != nil {
		return nil, fmt.Errorf("stream: pli interceptor: %w", err)
	}
	registry.Add(pli)

	settings := webrtc.SettingEngine{}
	if loggerFactory != nil {
		settings.LoggerFactory = loggerFactory
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	), nil
}
