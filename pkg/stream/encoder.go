package stream

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v3/pkg/media/ivfreader"

	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// Encoder turns bgr24 frames into VP8 packets using a persistent ffmpeg
// process. WriteFrame and ReadPacket are meant to run on separate goroutines.
type Encoder struct {
	proc   *process
	width  int
	height int

	// reader is created by the first ReadPacket because parsing the IVF
	// header blocks until ffmpeg has encoded a frame.
	reader *ivfreader.IVFReader
}

// NewEncoder starts the ffmpeg encoder for opts.Width x opts.Height input.
func NewEncoder(ctx context.Context, opts Options) (*Encoder, error) {
	opts = opts.withDefaults()

	proc, err := startProcess(ctx, "encoder", opts.FFmpegPath, encoderArgs(opts))
	if err != nil {
		return nil, err
	}
	return &Encoder{proc: proc, width: opts.Width, height: opts.Height}, nil
}

// WriteFrame queues one frame for encoding.
func (e *Encoder) WriteFrame(f frame.Frame) error {
	if f.Width != e.width || f.Height != e.height {
		return fmt.Errorf("%w: encoder wants %dx%d, got %dx%d",
			frame.ErrInvalidSize, e.width, e.height, f.Width, f.Height)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := e.proc.stdin.Write(f.Pix)
	return err
}

// ReadPacket blocks until the next encoded VP8 frame is available.
func (e *Encoder) ReadPacket() ([]byte, error) {
	if e.reader == nil {
		r, _, err := ivfreader.NewWith(e.proc.stdout)
		if err != nil {
			return nil, e.wrap(fmt.Errorf("encoder: ivf header: %w", err))
		}
		e.reader = r
	}
	data, _, err := e.reader.ParseNextFrame()
	if err != nil {
		return nil, e.wrap(err)
	}
	return data, nil
}

func (e *Encoder) wrap(err error) error {
	if s := e.proc.Stderr(); s != "" {
		return fmt.Errorf("%w: %s", err, s)
	}
	return err
}

// Close stops ffmpeg.
func (e *Encoder) Close() error {
	return e.proc.Close()
}
