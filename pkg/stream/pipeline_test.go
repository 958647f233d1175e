package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"

	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// fakeFFmpegEnv makes the test binary act as ffmpeg when it is started by a
// Decoder or Encoder.
const fakeFFmpegEnv = "LIVEDETECT_FAKE_FFMPEG"

func TestMain(m *testing.M) {
	if os.Getenv(fakeFFmpegEnv) == "1" {
		os.Exit(fakeFFmpeg(os.Args[1:]))
	}
	os.Exit(m.Run())
}

// fakeFFmpeg understands the arguments built by decoderArgs and encoderArgs.
// The decoder turns every IVF frame into a raw frame filled with the second
// payload byte. The encoder turns every raw frame into an IVF frame holding
// its first eight bytes.
func fakeFFmpeg(args []string) int {
	var format string
	var w, h int
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "-f":
			if format == "" {
				format = args[i+1]
			}
		case "-vf":
			fmt.Sscanf(args[i+1], "scale=%d:%d", &w, &h)
		case "-s":
			fmt.Sscanf(args[i+1], "%dx%d", &w, &h)
		}
	}

	var err error
	switch format {
	case "ivf":
		err = fakeDecode(os.Stdin, os.Stdout, w, h)
	case "rawvideo":
		err = fakeEncode(os.Stdin, os.Stdout, w, h)
	default:
		err = fmt.Errorf("unknown input format %q", format)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func fakeDecode(in io.Reader, out io.Writer, w, h int) error {
	r, _, err := ivfreader.NewWith(in)
	if err != nil {
		return err
	}
	for {
		payload, _, err := r.ParseNextFrame()
		if err != nil {
			return err
		}
		var v byte
		if len(payload) > 1 {
			v = payload[1]
		}
		if _, err := out.Write(bytes.Repeat([]byte{v}, frame.Size(w, h))); err != nil {
			return err
		}
	}
}

func fakeEncode(in io.Reader, out io.Writer, w, h int) error {
	header := make([]byte, 32)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], "VP80")
	binary.LittleEndian.PutUint16(header[12:], uint16(w))
	binary.LittleEndian.PutUint16(header[14:], uint16(h))
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	if _, err := out.Write(header); err != nil {
		return err
	}

	raw := make([]byte, frame.Size(w, h))
	for n := uint64(0); ; n++ {
		if _, err := io.ReadFull(in, raw); err != nil {
			return err
		}
		pkt := make([]byte, 12+8)
		binary.LittleEndian.PutUint32(pkt[0:], 8)
		binary.LittleEndian.PutUint64(pkt[4:], n)
		copy(pkt[12:], raw[:8])
		if _, err := out.Write(pkt); err != nil {
			return err
		}
	}
}

func fakeFFmpegOptions(t *testing.T) Options {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	t.Setenv(fakeFFmpegEnv, "1")
	return Options{Width: 16, Height: 8, FrameRate: 30, FFmpegPath: exe}
}

// fakeTrack produces one VP8 keyframe packet every few milliseconds until
// stopped, or fails with err after failAfter packets.
type fakeTrack struct {
	failAfter int
	err       error

	seq      uint16
	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeTrack(failAfter int, err error) *fakeTrack {
	return &fakeTrack{failAfter: failAfter, err: err, stopped: make(chan struct{})}
}

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if t.failAfter > 0 && int(t.seq) >= t.failAfter {
		return nil, nil, t.err
	}
	select {
	case <-t.stopped:
		return nil, nil, io.EOF
	case <-time.After(5 * time.Millisecond):
	}
	t.seq++
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: t.seq,
			Timestamp:      uint32(t.seq) * 3000,
			Marker:         true,
		},
		// Descriptor with S set, then a keyframe payload.
		Payload: []byte{0x10, 0x00, byte(t.seq), 0x00, 0x00, 0x00},
	}, nil, nil
}

func (t *fakeTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *fakeTrack) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// flakyProcessor fails every second frame.
type flakyProcessor struct {
	calls atomic.Int64
}

func (p *flakyProcessor) Process(_ context.Context, f frame.Frame) (frame.Frame, error) {
	if p.calls.Add(1)%2 == 0 {
		return frame.Frame{}, errors.New("detector busy")
	}
	return f.Clone(), nil
}

type sampleRecorder struct {
	samples chan media.Sample
}

func (r *sampleRecorder) WriteSample(s media.Sample) error {
	select {
	case r.samples <- s:
	default:
	}
	return nil
}

func newTestPipeline(opts Options, proc Processor, track *fakeTrack) (*pipeline, *sampleRecorder) {
	sink := &sampleRecorder{samples: make(chan media.Sample, 64)}
	return &pipeline{
		opts:   opts,
		proc:   proc,
		sink:   sink,
		logger: log.New(io.Discard, log.Options{Level: "debug"}),
		stop:   track.Stop,
	}, sink
}

func TestPipeline_KeepsStreamingThroughProcessErrors(t *testing.T) {
	opts := fakeFFmpegOptions(t)
	track := newFakeTrack(0, nil)
	proc := &flakyProcessor{}
	p, sink := newTestPipeline(opts, proc, track)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- p.run(ctx, track) }()

	wantDuration := time.Second / time.Duration(opts.FrameRate)
	deadline := time.After(10 * time.Second)
	for got := 0; got < 3; {
		select {
		case s := <-sink.samples:
			if len(s.Data) != 8 {
				t.Errorf("sample size: got %d, want 8", len(s.Data))
			}
			if s.Duration != wantDuration {
				t.Errorf("sample duration: got %v, want %v", s.Duration, wantDuration)
			}
			got++
		case err := <-errc:
			t.Fatalf("pipeline stopped early: %v", err)
		case <-deadline:
			t.Fatalf("got %d samples, processed=%d dropped=%d", got, p.processed.Load(), p.dropped.Load())
		}
	}

	if p.dropped.Load() == 0 {
		t.Error("failed frames should be counted as dropped")
	}
	if p.processed.Load() < 2 {
		t.Errorf("processed: got %d, want at least 2", p.processed.Load())
	}

	cancel()
	select {
	case <-errc:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if !track.isStopped() {
		t.Error("stop should run when the pipeline ends")
	}
}

func TestPipeline_StageFailureStopsEverything(t *testing.T) {
	opts := fakeFFmpegOptions(t)
	errTrackGone := errors.New("track gone")
	track := newFakeTrack(3, errTrackGone)
	p, _ := newTestPipeline(opts, &flakyProcessor{}, track)

	errc := make(chan error, 1)
	go func() { errc <- p.run(context.Background(), track) }()

	select {
	case err := <-errc:
		if !errors.Is(err, errTrackGone) {
			t.Errorf("run: got %v, want %v", err, errTrackGone)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after the track failed")
	}
	if !track.isStopped() {
		t.Error("stop should run when a stage fails")
	}
}

func TestPipeline_MissingFFmpeg(t *testing.T) {
	track := newFakeTrack(0, nil)
	opts := Options{Width: 16, Height: 8, FrameRate: 30, FFmpegPath: "/nonexistent/ffmpeg"}
	p, _ := newTestPipeline(opts, &flakyProcessor{}, track)

	if err := p.run(context.Background(), track); err == nil {
		t.Error("expected error when ffmpeg cannot start")
	}
}
