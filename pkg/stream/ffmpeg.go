package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/multierr"
)

// process is a long running ffmpeg with piped stdin and stdout.
// Killed when its context is cancelled.
type process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *limitedBuffer

	closeOnce sync.Once
	closeErr  error
}

func startProcess(ctx context.Context, name, path string, args []string) (*process, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stdin pipe: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stdout pipe: %w", name, err)
	}
	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: start %s: %w", name, path, err)
	}

	return &process{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// Close closes stdin and kills the process.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		var errs error
		if err := p.stdin.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
		if p.cmd.Process != nil {
			// Kill fails once the process has already exited; that is fine.
			_ = p.cmd.Process.Kill()
		}
		// Wait reports the kill signal as an error, ignore it.
		_ = p.cmd.Wait()
		p.closeErr = errs
	})
	return p.closeErr
}

// Stderr returns the tail of the process stderr, useful when it exits early.
func (p *process) Stderr() string {
	return p.stderr.String()
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// decoderArgs builds the ffmpeg arguments that turn an IVF VP8 stream on stdin
// into fixed size bgr24 frames on stdout.
func decoderArgs(opts Options) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", "ivf",
		"-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"-pix_fmt", "bgr24",
		"-f", "rawvideo",
		"pipe:1",
	}
}

// encoderArgs builds the ffmpeg arguments that turn bgr24 frames on stdin
// into a realtime VP8 IVF stream on stdout.
func encoderArgs(opts Options) []string {
	fps := strconv.Itoa(opts.FrameRate)
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", fps,
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-lag-in-frames", "0",
		"-auto-alt-ref", "0",
		"-error-resilient", "1",
		"-b:v", opts.Bitrate,
		"-g", strconv.Itoa(opts.FrameRate * 2),
		"-f", "ivf",
		"-flush_packets", "1",
		"pipe:1",
	}
}
