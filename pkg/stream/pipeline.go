package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// rtpSource is the inbound side of a track, satisfied by *webrtc.TrackRemote.
type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// sampleSink is the outbound side, satisfied by
// *webrtc.TrackLocalStaticSample.
type sampleSink interface {
	WriteSample(s media.Sample) error
}

// pipeline decodes an inbound VP8 track, runs every frame through the
// processor and writes the re-encoded result to the sink.
type pipeline struct {
	opts   Options
	proc   Processor
	sink   sampleSink
	logger *slog.Logger

	// stop runs once any stage ends. It must make a blocked ReadRTP return.
	stop func()

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// run blocks until ctx is done or a stage fails.
func (p *pipeline) run(ctx context.Context, src rtpSource) error {
	opts := p.opts.withDefaults()
	g, ctx := errgroup.WithContext(ctx)

	dec, err := NewDecoder(ctx, opts)
	if err != nil {
		return err
	}
	defer dec.Close()

	enc, err := NewEncoder(ctx, opts)
	if err != nil {
		return err
	}
	defer enc.Close()

	// Holds only the newest decoded frame; the decoder never waits on
	// detection.
	latest := make(chan frame.Frame, 1)
	frameDuration := time.Second / time.Duration(opts.FrameRate)

	g.Go(func() error {
		for {
			pkt, _, err := src.ReadRTP()
			if err != nil {
				return err
			}
			if err := dec.WriteRTP(pkt); err != nil {
				return fmt.Errorf("decoder: write rtp: %w", err)
			}
		}
	})

	g.Go(func() error {
		for {
			f, err := dec.ReadFrame()
			if err != nil {
				return fmt.Errorf("decoder: read frame: %w", err)
			}
			offerLatest(latest, f)
		}
	})

	g.Go(func() error {
		for {
			var f frame.Frame
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f = <-latest:
			}

			out, err := p.proc.Process(ctx, f)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.dropped.Add(1)
				p.logger.Debug("frame dropped", "error", err)
				continue
			}
			if err := enc.WriteFrame(out); err != nil {
				return fmt.Errorf("encoder: write frame: %w", err)
			}
			p.processed.Add(1)
		}
	})

	g.Go(func() error {
		for {
			data, err := enc.ReadPacket()
			if err != nil {
				return fmt.Errorf("encoder: read packet: %w", err)
			}
			if err := p.sink.WriteSample(media.Sample{Data: data, Duration: frameDuration}); err != nil {
				return fmt.Errorf("track: write sample: %w", err)
			}
		}
	})

	// Unblock every reader once any stage stops.
	g.Go(func() error {
		<-ctx.Done()
		if p.stop != nil {
			p.stop()
		}
		return multierr.Combine(dec.Close(), enc.Close())
	})

	return g.Wait()
}

// offerLatest puts f in the one slot channel, replacing a frame that has not
// been picked up yet. Only one goroutine may send on slot.
func offerLatest(slot chan frame.Frame, f frame.Frame) {
	select {
	case slot <- f:
		return
	default:
	}
	select {
	case <-slot:
	default:
	}
	slot <- f
}
