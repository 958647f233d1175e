package stream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// Decoder turns inbound VP8 RTP packets into bgr24 frames using a persistent
// ffmpeg process. Packets are written as IVF to ffmpeg stdin and frames are
// read from its stdout.
type Decoder struct {
	proc   *process
	frames *FrameReader

	mu  sync.Mutex
	ivf *ivfwriter.IVFWriter
}

// NewDecoder starts the ffmpeg decoder. All frames come out at
// opts.Width x opts.Height.
func NewDecoder(ctx context.Context, opts Options) (*Decoder, error) {
	opts = opts.withDefaults()

	proc, err := startProcess(ctx, "decoder", opts.FFmpegPath, decoderArgs(opts))
	if err != nil {
		return nil, err
	}

	ivf, err := ivfwriter.NewWith(proc.stdin)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("decoder: ivf writer: %w", err), proc.Close())
	}

	return &Decoder{
		proc:   proc,
		frames: NewFrameReader(proc.stdout, opts.Width, opts.Height),
		ivf:    ivf,
	}, nil
}

// WriteRTP feeds one RTP packet. Packets before the first keyframe are
// discarded by the IVF writer.
func (d *Decoder) WriteRTP(pkt *rtp.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ivf == nil {
		return io.ErrClosedPipe
	}
	return d.ivf.WriteRTP(pkt)
}

// ReadFrame blocks until the next decoded frame is available.
func (d *Decoder) ReadFrame() (frame.Frame, error) {
	f, err := d.frames.Next()
	if err != nil && d.proc.Stderr() != "" {
		return f, fmt.Errorf("%w: %s", err, d.proc.Stderr())
	}
	return f, err
}

// Close stops ffmpeg.
func (d *Decoder) Close() error {
	d.mu.Lock()
	ivf := d.ivf
	d.ivf = nil
	d.mu.Unlock()

	var err error
	if ivf != nil {
		err = ivf.Close()
	}
	return multierr.Append(err, d.proc.Close())
}

// FrameReader splits a raw bgr24 stream into frames of a fixed size.
type FrameReader struct {
	r      io.Reader
	width  int
	height int
}

// NewFrameReader reads w x h frames from r.
func NewFrameReader(r io.Reader, w, h int) *FrameReader {
	return &FrameReader{r: r, width: w, height: h}
}

// Next returns the next frame. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream stops mid frame.
func (fr *FrameReader) Next() (frame.Frame, error) {
	f, err := frame.New(fr.width, fr.height)
	if err != nil {
		return frame.Frame{}, err
	}
	if _, err := io.ReadFull(fr.r, f.Pix); err != nil {
		return frame.Frame{}, err
	}
	return f, nil
}
