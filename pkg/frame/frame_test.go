package frame

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

func TestNew(t *testing.T) {
	f, err := New(4, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(f.Pix) != 36 {
		t.Errorf("Pix length: got %d, want 36", len(f.Pix))
	}

	if _, err := New(0, 3); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("New(0,3): got %v, want ErrInvalidSize", err)
	}
}

func TestFromBytes(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		n      int
		expect error
	}{
		{"exact", 2, 2, 12, nil},
		{"short", 2, 2, 11, ErrShortBuffer},
		{"long", 2, 2, 13, ErrShortBuffer},
		{"negative", -1, 2, 0, ErrInvalidSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromBytes(tc.w, tc.h, make([]byte, tc.n))
			if !errors.Is(err, tc.expect) {
				t.Errorf("got %v, want %v", err, tc.expect)
			}
		})
	}
}

func TestClone_Independent(t *testing.T) {
	f, _ := New(2, 2)
	f.Set(1, 1, 10, 20, 30)

	c := f.Clone()
	if !c.Equal(f) {
		t.Fatal("clone should equal original")
	}

	c.Set(1, 1, 0, 0, 0)
	if b, g, r := f.At(1, 1); b != 10 || g != 20 || r != 30 {
		t.Errorf("original modified through clone: got %d,%d,%d", b, g, r)
	}
}

func TestToImage_ChannelOrder(t *testing.T) {
	f, _ := New(1, 1)
	f.Set(0, 0, 1, 2, 3) // B=1 G=2 R=3

	img := f.ToImage()
	got := img.RGBAAt(0, 0)
	want := color.RGBA{R: 3, G: 2, B: 1, A: 255}
	if got != want {
		t.Errorf("ToImage pixel: got %+v, want %+v", got, want)
	}
}

func TestFromImage_RoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(2, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	f := FromImage(img)
	if f.Width != 3 || f.Height != 2 {
		t.Fatalf("size: got %dx%d, want 3x2", f.Width, f.Height)
	}
	if b, g, r := f.At(2, 1); b != 50 || g != 100 || r != 200 {
		t.Errorf("pixel: got b=%d g=%d r=%d", b, g, r)
	}
	if !FromImage(f.ToImage()).Equal(f) {
		t.Error("ToImage/FromImage should round-trip")
	}
}

func TestMatRoundTrip(t *testing.T) {
	f, _ := New(8, 4)
	f.Set(3, 2, 11, 22, 33)

	m, err := f.ToMat()
	if err != nil {
		t.Fatalf("ToMat: %v", err)
	}
	defer m.Close()

	if m.Rows() != 4 || m.Cols() != 8 {
		t.Errorf("mat size: got %dx%d, want 8x4", m.Cols(), m.Rows())
	}

	back, err := FromMat(m)
	if err != nil {
		t.Fatalf("FromMat: %v", err)
	}
	if !back.Equal(f) {
		t.Error("mat round-trip changed pixels")
	}
}

func TestToMat_DrawingLeavesFrameUntouched(t *testing.T) {
	f, _ := New(8, 4)
	orig := f.Clone()

	m, err := f.ToMat()
	if err != nil {
		t.Fatalf("ToMat: %v", err)
	}
	defer m.Close()

	if err := gocv.Rectangle(&m, image.Rect(0, 0, 8, 4), color.RGBA{R: 255, A: 255}, -1); err != nil {
		t.Fatalf("Rectangle: %v", err)
	}

	drawn, err := FromMat(m)
	if err != nil {
		t.Fatalf("FromMat: %v", err)
	}
	if drawn.Equal(orig) {
		t.Fatal("rectangle was not drawn on the mat")
	}
	if !f.Equal(orig) {
		t.Error("drawing on the mat modified the frame")
	}
}
