// Package processor runs detection on decoded video frames and renders the
// annotated result that is sent back to the browser.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/detection"
	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// ThresholdSource supplies the thresholds to use for the next frame.
type ThresholdSource interface {
	Get() detection.Thresholds
}

// Options configures a Processor.
type Options struct {
	Logger *slog.Logger
}

// Stats is a snapshot of processor counters.
type Stats struct {
	Frames               uint64  `json:"frames"`
	FramesWithDetections uint64  `json:"frames_with_detections"`
	Detections           uint64  `json:"detections"`
	Errors               uint64  `json:"errors"`
	LastLatencyMs        float64 `json:"last_latency_ms"`
	LastCount            int     `json:"last_count"`
	TopLabel             string  `json:"top_label,omitempty"`
	TopConfidence        float64 `json:"top_confidence,omitempty"`
}

// Processor turns an input frame into an annotated output frame.
// Safe for concurrent use; the detector serializes inference itself.
type Processor struct {
	det    detection.Detector
	store  ThresholdSource
	logger *slog.Logger

	frames         atomic.Uint64
	withDetections atomic.Uint64
	detections     atomic.Uint64
	errors         atomic.Uint64

	mu            sync.Mutex
	lastLatency   time.Duration
	lastCount     int
	topLabel      string
	topConfidence float64
}

// New creates a processor. The store is read on every frame.
func New(det detection.Detector, store ThresholdSource, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = log.With("component", "processor")
	}
	return &Processor{
		det:    det,
		store:  store,
		logger: logger,
	}
}

// Process detects objects in f and returns an annotated frame of the same
// size. f is never modified. A detector error is returned as is; callers drop
// the frame.
func (p *Processor) Process(ctx context.Context, f frame.Frame) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	if err := f.Validate(); err != nil {
		p.errors.Add(1)
		return frame.Frame{}, err
	}

	start := time.Now()
	th := p.store.Get()

	dets, err := p.det.Detect(f, th)
	if err != nil {
		p.errors.Add(1)
		return frame.Frame{}, err
	}

	out, err := Annotate(f, dets)
	if err != nil {
		p.errors.Add(1)
		return frame.Frame{}, err
	}

	p.record(dets, time.Since(start))

	if len(dets) > 0 {
		p.logger.Debug("frame processed",
			"detections", len(dets),
			"confidence", th.Confidence,
			"iou", th.IoU)
	}
	return out, nil
}

func (p *Processor) record(dets []detection.ObjectDetection, latency time.Duration) {
	p.frames.Add(1)
	if len(dets) > 0 {
		p.withDetections.Add(1)
		p.detections.Add(uint64(len(dets)))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastLatency = latency
	p.lastCount = len(dets)
	if best := detection.SelectBest(dets); best != nil {
		p.topLabel = best.ClassName
		p.topConfidence = best.Confidence
	} else {
		p.topLabel = ""
		p.topConfidence = 0
	}
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Frames:               p.frames.Load(),
		FramesWithDetections: p.withDetections.Load(),
		Detections:           p.detections.Load(),
		Errors:               p.errors.Load(),
		LastLatencyMs:        float64(p.lastLatency.Microseconds()) / 1000,
		LastCount:            p.lastCount,
		TopLabel:             p.topLabel,
		TopConfidence:        p.topConfidence,
	}
}
