package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/teslashibe/go-livedetect/pkg/detection"
	"github.com/teslashibe/go-livedetect/pkg/frame"
	"github.com/teslashibe/go-livedetect/pkg/thresholds"
)

type fakeDetector struct {
	mu   sync.Mutex
	dets []detection.ObjectDetection
	err  error
	seen []detection.Thresholds
}

func (d *fakeDetector) Detect(f frame.Frame, th detection.Thresholds) ([]detection.ObjectDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, th)
	if d.err != nil {
		return nil, d.err
	}
	return d.dets, nil
}

func (d *fakeDetector) Close() error { return nil }

func testFrame(t *testing.T, w, h int) frame.Frame {
	t.Helper()
	f, err := frame.New(w, h)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	for i := range f.Pix {
		f.Pix[i] = byte(i % 251)
	}
	return f
}

func TestProcess_NoDetectionsPassesThrough(t *testing.T) {
	det := &fakeDetector{}
	p := New(det, thresholds.NewManager(), Options{})
	in := testFrame(t, 64, 48)

	out, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.Equal(in) {
		t.Error("output should equal input when nothing is detected")
	}
	out.Pix[0] ^= 0xff
	if out.Pix[0] == in.Pix[0] {
		t.Error("output must not share the input buffer")
	}
}

func TestProcess_ReadsThresholdsPerFrame(t *testing.T) {
	det := &fakeDetector{}
	store := thresholds.NewManager()
	p := New(det, store, Options{})
	in := testFrame(t, 32, 32)

	if _, err := p.Process(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(detection.Thresholds{Confidence: 0.7, IoU: 0.3}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Process(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	if len(det.seen) != 2 {
		t.Fatalf("expected 2 detector calls, got %d", len(det.seen))
	}
	if det.seen[0] != detection.DefaultThresholds() {
		t.Errorf("first frame: got %+v", det.seen[0])
	}
	if det.seen[1].Confidence != 0.7 || det.seen[1].IoU != 0.3 {
		t.Errorf("second frame: got %+v", det.seen[1])
	}
}

func TestProcess_DetectorError(t *testing.T) {
	boom := errors.New("boom")
	p := New(&fakeDetector{err: boom}, thresholds.NewManager(), Options{})

	_, err := p.Process(context.Background(), testFrame(t, 16, 16))
	if !errors.Is(err, boom) {
		t.Fatalf("expected detector error, got %v", err)
	}
	if s := p.Stats(); s.Errors != 1 || s.Frames != 0 {
		t.Errorf("stats after error: %+v", s)
	}
}

func TestProcess_InvalidFrame(t *testing.T) {
	det := &fakeDetector{}
	p := New(det, thresholds.NewManager(), Options{})

	_, err := p.Process(context.Background(), frame.Frame{Width: 4, Height: 4, Pix: make([]byte, 10)})
	if !errors.Is(err, frame.ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if len(det.seen) != 0 {
		t.Error("detector should not run on a malformed frame")
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	det := &fakeDetector{}
	p := New(det, thresholds.NewManager(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Process(ctx, testFrame(t, 8, 8)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcess_DrawsDetections(t *testing.T) {
	det := &fakeDetector{dets: []detection.ObjectDetection{
		{Detection: detection.Detection{X: 0.1, Y: 0.2, W: 0.5, H: 0.5, Confidence: 0.9}, ClassID: 0, ClassName: "red"},
		{Detection: detection.Detection{X: 0.6, Y: 0.6, W: 0.3, H: 0.3, Confidence: 0.4}, ClassID: 3, ClassName: "blue"},
	}}
	p := New(det, thresholds.NewManager(), Options{})
	in := testFrame(t, 160, 120)
	orig := in.Clone()

	out, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.SameShape(in) {
		t.Fatalf("output %dx%d, want %dx%d", out.Width, out.Height, in.Width, in.Height)
	}
	if !in.Equal(orig) {
		t.Error("input frame was modified")
	}
	if out.Equal(in) {
		t.Error("expected boxes to be drawn")
	}

	s := p.Stats()
	if s.Frames != 1 || s.FramesWithDetections != 1 || s.Detections != 2 || s.LastCount != 2 {
		t.Errorf("stats: %+v", s)
	}
	if s.TopLabel != "red" {
		t.Errorf("top label: got %q, want red", s.TopLabel)
	}
}

func TestColorFor_Stable(t *testing.T) {
	if ColorFor(2) != ColorFor(2+len(palette)) {
		t.Error("palette should wrap")
	}
	if ColorFor(0) == ColorFor(1) {
		t.Error("adjacent classes should differ")
	}
	if ColorFor(-3) != ColorFor(3) {
		t.Error("negative ids should map like positive ones")
	}
}

func TestLabel(t *testing.T) {
	d := detection.ObjectDetection{Detection: detection.Detection{Confidence: 0.876}, ClassName: "green"}
	if got := Label(d); got != "green 0.88" {
		t.Errorf("Label: got %q", got)
	}
}
