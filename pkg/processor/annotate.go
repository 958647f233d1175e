package processor

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-livedetect/pkg/detection"
	"github.com/teslashibe/go-livedetect/pkg/frame"
)

// palette gives each class a stable box color.
var palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 146, G: 204, B: 23, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
	{R: 44, G: 153, B: 168, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
	{R: 52, G: 69, B: 147, A: 255},
	{R: 100, G: 115, B: 255, A: 255},
	{R: 0, G: 24, B: 236, A: 255},
	{R: 132, G: 56, B: 255, A: 255},
	{R: 82, G: 0, B: 133, A: 255},
	{R: 203, G: 56, B: 255, A: 255},
	{R: 255, G: 149, B: 200, A: 255},
	{R: 255, G: 55, B: 199, A: 255},
}

var textColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

const (
	boxThickness = 2
	fontScale    = 0.5
	fontFace     = gocv.FontHersheySimplex
)

// ColorFor returns the box color for a class id.
func ColorFor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Label formats the text drawn above a box.
func Label(d detection.ObjectDetection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

// Annotate draws boxes and labels onto a copy of f. The input is not
// modified and the result always has the same dimensions. With no detections
// the result is a plain copy of the input.
func Annotate(f frame.Frame, dets []detection.ObjectDetection) (frame.Frame, error) {
	if len(dets) == 0 {
		return f.Clone(), nil
	}

	mat, err := f.ToMat()
	if err != nil {
		return frame.Frame{}, err
	}
	defer mat.Close()

	for _, d := range dets {
		rect := d.Rect(f.Width, f.Height)
		if rect.Empty() {
			continue
		}
		col := ColorFor(d.ClassID)

		if err := gocv.Rectangle(&mat, rect, col, boxThickness); err != nil {
			return frame.Frame{}, fmt.Errorf("processor: draw box: %w", err)
		}

		label := Label(d)
		size := gocv.GetTextSize(label, fontFace, fontScale, 1)

		// Put the label above the box, or inside it when the box touches the top.
		bg := image.Rect(rect.Min.X, rect.Min.Y-size.Y-6, rect.Min.X+size.X+4, rect.Min.Y)
		if bg.Min.Y < 0 {
			bg = bg.Add(image.Pt(0, size.Y+6))
		}
		if err := gocv.Rectangle(&mat, bg, col, -1); err != nil {
			return frame.Frame{}, fmt.Errorf("processor: draw label background: %w", err)
		}
		origin := image.Pt(bg.Min.X+2, bg.Max.Y-4)
		if err := gocv.PutText(&mat, label, origin, fontFace, fontScale, textColor, 1); err != nil {
			return frame.Frame{}, fmt.Errorf("processor: draw label: %w", err)
		}
	}

	return frame.FromMat(mat)
}
