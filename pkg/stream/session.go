package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-livedetect/internal/log"
)

// Session is one browser peer: camera in, annotated video out.
type Session struct {
	ID string

	pc     *webrtc.PeerConnection
	out    *webrtc.TrackLocalStaticSample
	proc   Processor
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     webrtc.PeerConnectionState
	started   bool
	closed    bool
	closeErr  error
	onClose   func(id string)
	closeOnce sync.Once
}

// NewSession creates a peer connection with an outbound VP8 track. Nothing
// flows until Negotiate is called with the browser offer.
func NewSession(api *webrtc.API, proc Processor, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	id := uuid.NewString()

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: ICEServers(opts.ICEServers),
	})
	if err != nil {
		return nil, fmt.Errorf("stream: new peer connection: %w", err)
	}

	out, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"livedetect-"+id[:8],
	)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("stream: new track: %w", err), pc.Close())
	}

	sender, err := pc.AddTrack(out)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("stream: add track: %w", err), pc.Close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     id,
		pc:     pc,
		out:    out,
		proc:   proc,
		opts:   opts,
		logger: log.With("component", "stream", "session", id[:8]),
		ctx:    ctx,
		cancel: cancel,
		state:  webrtc.PeerConnectionStateNew,
	}

	// RTCP has to be read for interceptors such as NACK to work.
	go drainRTCP(sender)

	pc.OnTrack(s.handleTrack)
	pc.OnConnectionStateChange(s.handleState)

	return s, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Negotiate applies the browser offer and returns the answer once ICE
// gathering has finished, so no trickle is needed.
func (s *Session) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if s.isClosed() {
		return webrtc.SessionDescription{}, ErrSessionClosed
	}

	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q", ErrInvalidOffer, offer.Type.String())
	}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("stream: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)

	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("stream: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	case <-s.ctx.Done():
		return webrtc.SessionDescription{}, ErrSessionClosed
	}

	return *s.pc.LocalDescription(), nil
}

// State returns the last peer connection state.
func (s *Session) State() webrtc.PeerConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnClose registers fn to run once after the session closes.
func (s *Session) OnClose(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) handleState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.logger.Info("connection state changed", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		go func() {
			if err := s.Close(); err != nil {
				s.logger.Debug("close after state change", "error", err)
			}
		}()
	}
}

func (s *Session) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	codec := track.Codec()
	s.logger.Info("track received",
		"kind", track.Kind().String(),
		"codec", codec.MimeType,
		"ssrc", uint32(track.SSRC()))

	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8) {
		s.logger.Warn("ignoring track", "error", ErrUnsupportedCodec, "codec", codec.MimeType)
		return
	}

	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	p := &pipeline{
		opts:   s.opts,
		proc:   s.proc,
		sink:   s.out,
		logger: s.logger,
		// Closing the peer connection is the only way to unblock ReadRTP.
		stop: func() {
			if err := s.Close(); err != nil {
				s.logger.Debug("close after pipeline", "error", err)
			}
		},
	}

	go func() {
		err := p.run(s.ctx, track)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
			s.logger.Info("pipeline stopped")
		default:
			s.logger.Warn("pipeline stopped", "error", err)
		}
		// stop never runs when ffmpeg fails to start.
		if err := s.Close(); err != nil {
			s.logger.Debug("close after pipeline", "error", err)
		}
	}()
}

// Close stops the pipeline and the peer connection. Safe to call more than
// once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		onClose := s.onClose
		s.mu.Unlock()

		s.cancel()
		err := s.pc.Close()

		s.mu.Lock()
		s.closeErr = err
		s.mu.Unlock()

		if onClose != nil {
			onClose(s.ID)
		}
		s.logger.Info("session closed")
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
