package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// ONNXDetector runs a YOLOv8 ONNX export through ONNX Runtime.
type ONNXDetector struct {
	config  Config
	labels  Labels
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	attrs, anchors int
	transposed     bool

	mu     sync.Mutex
	closed bool
}

var ortInit sync.Mutex

// initORT initializes the process-wide ONNX Runtime environment once.
func initORT(libPath string) error {
	ortInit.Lock()
	defer ortInit.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: initialize onnxruntime: %v", ErrModelLoad, err)
	}
	return nil
}

// yoloAnchors is the anchor count for a stride 8/16/32 YOLOv8 head.
func yoloAnchors(w, h int) int {
	n := 0
	for _, s := range []int{8, 16, 32} {
		n += (w / s) * (h / s)
	}
	return n
}

// NewONNX creates an ONNX Runtime backed detector.
func NewONNX(cfg Config, labels Labels) (*ONNXDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	if err := initORT(cfg.ORTLibrary); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect %s: %v", ErrModelLoad, cfg.ModelPath, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("%w: expected one input and at least one output, got %d/%d",
			ErrModelLoad, len(inputs), len(outputs))
	}

	// Dynamic dimensions come back as -1; pin batch to 1 and fill in the
	// anchor count for the configured input size.
	outDims := make([]int, len(outputs[0].Dimensions))
	for i, d := range outputs[0].Dimensions {
		outDims[i] = int(d)
	}
	if len(outDims) == 3 {
		if outDims[0] < 1 {
			outDims[0] = 1
		}
		if outDims[2] < 1 {
			outDims[2] = yoloAnchors(cfg.InputWidth, cfg.InputHeight)
		}
	}
	attrs, anchors, transposed, ok := outputLayout(outDims)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedOutput, outputs[0].Dimensions)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputHeight), int64(cfg.InputWidth)))
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %v", ErrModelLoad, err)
	}

	outShape := make([]int64, len(outDims))
	for i, d := range outDims {
		outShape[i] = int64(d)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: create output tensor: %v", ErrModelLoad, err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: create session: %v", ErrModelLoad, err)
	}

	return &ONNXDetector{
		config:     cfg,
		labels:     resolveLabels(labels, attrs-4),
		session:    session,
		input:      inputTensor,
		output:     outputTensor,
		attrs:      attrs,
		anchors:    anchors,
		transposed: transposed,
	}, nil
}

// fillInput writes the frame as normalized planar RGB into dst.
func fillInput(dst []float32, f frame.Frame, w, h int) {
	resized := resize.Resize(uint(w), uint(h), f.ToImage(), resize.Bilinear)

	plane := w * h
	rgba, ok := resized.(*image.RGBA)
	if ok {
		for y := 0; y < h; y++ {
			row := rgba.Pix[y*rgba.Stride:]
			for x := 0; x < w; x++ {
				i := y*w + x
				dst[i] = float32(row[x*4]) / 255
				dst[plane+i] = float32(row[x*4+1]) / 255
				dst[2*plane+i] = float32(row[x*4+2]) / 255
			}
		}
		return
	}

	b := resized.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			dst[i] = float32(r>>8) / 255
			dst[plane+i] = float32(g>>8) / 255
			dst[2*plane+i] = float32(bl>>8) / 255
		}
	}
}

// Detect finds objects in the frame
func (d *ONNXDetector) Detect(f frame.Frame, th Thresholds) ([]ObjectDetection, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	fillInput(d.input.GetData(), f, d.config.InputWidth, d.config.InputHeight)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("detection: inference failed: %w", err)
	}

	scaleX := float32(f.Width) / float32(d.config.InputWidth)
	scaleY := float32(f.Height) / float32(d.config.InputHeight)
	cands := decodeYOLOv8(d.output.GetData(), d.attrs, d.anchors, d.transposed, scaleX, scaleY, float32(th.Confidence))
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := classOffsetBoxes(cands, f.Width, f.Height)
	scores := make([]float32, len(cands))
	for i, c := range cands {
		scores[i] = c.score
	}
	keep := NMS(boxes, scores, th.IoU)

	return toDetections(cands, keep, f.Width, f.Height, d.labels, d.config.MaxDetections), nil
}

// Close releases the session and tensors.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	return multierr.Combine(
		d.session.Destroy(),
		d.input.Destroy(),
		d.output.Destroy(),
	)
}
