package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// YOLODetector runs a YOLOv8 ONNX export through the OpenCV DNN module
type YOLODetector struct {
	net       gocv.Net
	config    Config
	labels    Labels
	mu        sync.Mutex
	inputSize image.Point
	closed    bool
}

// NewYOLO creates a new YOLO object detector
func NewYOLO(cfg Config, labels Labels) (*YOLODetector, error) {
	// Check if model file exists
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	// Load ONNX model
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: opencv could not read %s", ErrModelLoad, cfg.ModelPath)
	}

	// Set backend and target
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set backend: %v", ErrModelLoad, err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set target: %v", ErrModelLoad, err)
	}

	return &YOLODetector{
		net:       net,
		config:    cfg,
		labels:    labels,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in the frame
func (d *YOLODetector) Detect(f frame.Frame, th Thresholds) ([]ObjectDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	img, err := f.ToMat()
	if err != nil {
		return nil, err
	}
	defer img.Close()

	// Frames are BGR; the model expects RGB scaled to 0-1
	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	attrs, anchors, transposed, ok := outputLayout(output.Size())
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedOutput, output.Size())
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("detection: read output: %w", err)
	}

	scaleX := float32(f.Width) / float32(d.config.InputWidth)
	scaleY := float32(f.Height) / float32(d.config.InputHeight)
	cands := decodeYOLOv8(data, attrs, anchors, transposed, scaleX, scaleY, float32(th.Confidence))

	// Return early if no detections
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := classOffsetBoxes(cands, f.Width, f.Height)
	scores := make([]float32, len(cands))
	for i, c := range cands {
		scores[i] = c.score
	}

	indices := gocv.NMSBoxes(boxes, scores, float32(th.Confidence), float32(th.IoU))

	labels := resolveLabels(d.labels, attrs-4)
	dets := toDetections(cands, indices, f.Width, f.Height, labels, d.config.MaxDetections)

	if len(dets) > 0 {
		log.Debug("yolo detections", "count", len(dets), "candidates", len(cands))
	}

	return dets, nil
}

// Close releases the detector resources
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
