// Package stream runs the WebRTC side of live detection: it receives the
// browser camera track, hands decoded frames to a processor and sends the
// annotated video back on the same peer connection.
package stream

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v3"
	"github.com/samber/lo"

	"github.com/teslashibe/go-livedetect/pkg/frame"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("stream: session not found")

	// ErrSessionClosed is returned when negotiating a closed session.
	ErrSessionClosed = errors.New("stream: session closed")

	// ErrInvalidOffer is returned when the browser offer cannot be applied.
	ErrInvalidOffer = errors.New("stream: invalid offer")

	// ErrUnsupportedCodec is returned for inbound tracks that are not VP8.
	ErrUnsupportedCodec = errors.New("stream: unsupported codec")
)

// Defaults for Options.
const (
	DefaultWidth      = 640
	DefaultHeight     = 480
	DefaultFrameRate  = 15
	DefaultBitrate    = "1M"
	DefaultFFmpegPath = "ffmpeg"
)

// Processor transforms one decoded frame into the frame sent back.
type Processor interface {
	Process(ctx context.Context, f frame.Frame) (frame.Frame, error)
}

// Options configures the media pipeline of every session.
type Options struct {
	Width      int
	Height     int
	FrameRate  int
	Bitrate    string
	FFmpegPath string
	ICEServers []string
}

// DefaultOptions returns options matching the config defaults.
func DefaultOptions() Options {
	return Options{
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		FrameRate:  DefaultFrameRate,
		Bitrate:    DefaultBitrate,
		FFmpegPath: DefaultFFmpegPath,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = def.Width, def.Height
	}
	if o.FrameRate <= 0 {
		o.FrameRate = def.FrameRate
	}
	if o.Bitrate == "" {
		o.Bitrate = def.Bitrate
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = def.FFmpegPath
	}
	return o
}

// ICEServers converts STUN/TURN urls to the pion configuration type.
// Every url becomes its own entry, as browsers expect.
func ICEServers(urls []string) []webrtc.ICEServer {
	return lo.Map(urls, func(u string, _ int) webrtc.ICEServer {
		return webrtc.ICEServer{URLs: []string{u}}
	})
}
