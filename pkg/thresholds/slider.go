// Package thresholds provides the runtime-adjustable detection thresholds
// behind the confidence and IoU sliders.
package thresholds

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-livedetect/pkg/detection"
)

// Slider range shared by both thresholds.
const (
	Min  = 0.0
	Max  = 1.0
	Step = 0.05

	// gridTolerance absorbs float noise from JSON round trips (0.15 etc).
	gridTolerance = 1e-9
)

// Slider names, also used as JSON keys.
const (
	NameConfidence = "confidence"
	NameIoU        = "iou"
)

// Slider describes one UI slider.
type Slider struct {
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// Sliders returns the two threshold sliders in display order.
func Sliders() []Slider {
	def := detection.DefaultThresholds()
	return []Slider{
		{Name: NameConfidence, Label: "Confidence Threshold", Min: Min, Max: Max, Step: Step, Default: def.Confidence},
		{Name: NameIoU, Label: "IoU Threshold (NMS)", Min: Min, Max: Max, Step: Step, Default: def.IoU},
	}
}

// OnGrid reports whether v lies in [Min, Max] on a Step boundary.
func OnGrid(v float64) bool {
	if math.IsNaN(v) || v < Min-gridTolerance || v > Max+gridTolerance {
		return false
	}
	steps := (v - Min) / Step
	return math.Abs(steps-math.Round(steps)) < gridTolerance*100
}

// Snap clamps v into range and rounds it to the nearest step.
func Snap(v float64) float64 {
	if math.IsNaN(v) {
		return Min
	}
	v = math.Max(Min, math.Min(Max, v))
	snapped := Min + math.Round((v-Min)/Step)*Step
	// Trim binary noise so 0.15000000000000002 reads as 0.15.
	return math.Round(snapped*100) / 100
}

// Validate checks both thresholds.
// Returns a list of validation errors, or nil if valid.
func Validate(th detection.Thresholds) []string {
	var errs []string
	if !OnGrid(th.Confidence) {
		errs = append(errs, fmt.Sprintf("confidence must be between %.2f and %.2f in steps of %.2f", Min, Max, Step))
	}
	if !OnGrid(th.IoU) {
		errs = append(errs, fmt.Sprintf("iou must be between %.2f and %.2f in steps of %.2f", Min, Max, Step))
	}
	return errs
}
