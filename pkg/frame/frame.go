// Package frame provides the BGR24 pixel buffer passed through the detection
// pipeline.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Channels is the number of bytes per pixel (B, G, R).
const Channels = 3

var (
	// ErrInvalidSize is returned for non-positive dimensions.
	ErrInvalidSize = errors.New("frame: invalid size")

	// ErrShortBuffer is returned when the pixel slice does not match the size.
	ErrShortBuffer = errors.New("frame: buffer length does not match size")
)

// Frame is a decoded video frame: Height rows of Width pixels, three bytes per
// pixel in B, G, R order.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Size returns the expected buffer length for a w x h frame.
func Size(w, h int) int {
	return w * h * Channels
}

// New allocates a black frame.
func New(w, h int) (Frame, error) {
	if w <= 0 || h <= 0 {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	return Frame{Width: w, Height: h, Pix: make([]byte, Size(w, h))}, nil
}

// FromBytes wraps pix without copying.
func FromBytes(w, h int, pix []byte) (Frame, error) {
	if w <= 0 || h <= 0 {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	if len(pix) != Size(w, h) {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortBuffer, len(pix), Size(w, h))
	}
	return Frame{Width: w, Height: h, Pix: pix}, nil
}

// Validate reports whether the frame is well formed.
func (f Frame) Validate() error {
	_, err := FromBytes(f.Width, f.Height, f.Pix)
	return err
}

// Bounds returns the frame rectangle.
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// SameShape reports whether both frames have identical dimensions.
func (f Frame) SameShape(other Frame) bool {
	return f.Width == other.Width && f.Height == other.Height
}

// Equal reports whether both frames have identical dimensions and pixels.
func (f Frame) Equal(other Frame) bool {
	return f.SameShape(other) && bytes.Equal(f.Pix, other.Pix)
}

// At returns the B, G, R bytes at (x, y).
func (f Frame) At(x, y int) (b, g, r byte) {
	i := (y*f.Width + x) * Channels
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Set writes the B, G, R bytes at (x, y).
func (f Frame) Set(x, y int, b, g, r byte) {
	i := (y*f.Width + x) * Channels
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
}

// ToImage converts to an RGBA image for pure-Go consumers.
func (f Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	for i, j := 0, 0; i+2 < len(f.Pix); i, j = i+Channels, j+4 {
		img.Pix[j] = f.Pix[i+2]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage converts any image to a BGR frame.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	f := Frame{Width: b.Dx(), Height: b.Dy(), Pix: make([]byte, Size(b.Dx(), b.Dy()))}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			f.Set(x, y, byte(bl>>8), byte(g>>8), byte(r>>8))
		}
	}
	return f
}

// ToMat copies the frame into a new CV_8UC3 Mat. The caller must Close it.
func (f Frame) ToMat() (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	// NewMatFromBytes wraps the slice without copying, so drawing on the Mat
	// would write through to f.Pix.
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, pix)
}

// FromMat copies a CV_8UC3 Mat into a new frame.
func FromMat(m gocv.Mat) (Frame, error) {
	if m.Empty() {
		return Frame{}, fmt.Errorf("%w: empty mat", ErrInvalidSize)
	}
	if m.Type() != gocv.MatTypeCV8UC3 {
		return Frame{}, fmt.Errorf("frame: unsupported mat type %v", m.Type())
	}
	data := m.ToBytes()
	pix := make([]byte, len(data))
	copy(pix, data)
	return FromBytes(m.Cols(), m.Rows(), pix)
}
