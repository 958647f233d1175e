// Package detection provides YOLOv8 object detection on video frames.
package detection

import (
	"image"

	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// Detection represents a detected bounding box
type Detection struct {
	X, Y       float64 // Top-left position (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Rect converts the normalized box to pixel coordinates for a w x h frame.
func (d Detection) Rect(w, h int) image.Rectangle {
	x0 := int(d.X * float64(w))
	y0 := int(d.Y * float64(h))
	x1 := int((d.X + d.W) * float64(w))
	y1 := int((d.Y + d.H) * float64(h))
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, w, h))
}

// ObjectDetection represents a detected object with class info
type ObjectDetection struct {
	Detection
	ClassID   int    `json:"class_id"`
	ClassName string `json:"class_name"`
}

// Thresholds are the two user-tunable detection parameters.
type Thresholds struct {
	Confidence float64 `json:"confidence"` // Minimum class score to keep a box
	IoU        float64 `json:"iou"`        // Overlap above which the weaker box is suppressed
}

// Detector is the interface for object detection backends
type Detector interface {
	// Detect finds objects in the frame using the given thresholds
	Detect(f frame.Frame, th Thresholds) ([]ObjectDetection, error)

	// Close releases resources
	Close() error
}

// Backend names accepted by Load.
const (
	BackendOpenCV      = "opencv"
	BackendONNXRuntime = "onnxruntime"
)

// Config holds detector configuration
type Config struct {
	ModelPath     string // Path to ONNX model
	LabelsPath    string // Optional class names, one per line
	Backend       string // BackendOpenCV or BackendONNXRuntime
	ORTLibrary    string // onnxruntime shared library (onnxruntime backend only)
	InputWidth    int    // Model input width
	InputHeight   int    // Model input height
	MaxDetections int    // Cap on boxes returned per frame
}

// DefaultConfig returns production defaults for a YOLOv8 export
func DefaultConfig() Config {
	return Config{
		ModelPath:     "best.onnx",
		Backend:       BackendOpenCV,
		InputWidth:    640,
		InputHeight:   640,
		MaxDetections: 300,
	}
}

// DefaultThresholds match the slider defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Confidence: 0.25, IoU: 0.5}
}

// SelectBest picks the most prominent detection.
// Priority: confidence * 0.7 + area * 0.3
func SelectBest(dets []ObjectDetection) *ObjectDetection {
	if len(dets) == 0 {
		return nil
	}

	if len(dets) == 1 {
		return &dets[0]
	}

	// Find max area for normalization
	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}
	if maxArea == 0 {
		maxArea = 1
	}

	bestScore := -1.0
	var best *ObjectDetection

	for i := range dets {
		score := dets[i].Confidence*0.7 + (dets[i].Area()/maxArea)*0.3
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}

	return best
}
