package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBox_OrdersCoordinates(t *testing.T) {
	b := NewBox(10, 20, 0, 5)
	assert.Equal(t, Box{MinX: 0, MinY: 5, MaxX: 10, MaxY: 20}, b)
	assert.InDelta(t, 10.0, b.Width(), 1e-9)
	assert.InDelta(t, 15.0, b.Height(), 1e-9)
}

func TestBoxFromCenter(t *testing.T) {
	b := BoxFromCenter(50, 40, 20, 10)
	assert.Equal(t, Box{MinX: 40, MinY: 35, MaxX: 60, MaxY: 45}, b)
}

func TestBoxIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{"identical", NewBox(0, 0, 10, 10), NewBox(0, 0, 10, 10), 1},
		{"disjoint", NewBox(0, 0, 10, 10), NewBox(20, 20, 30, 30), 0},
		{"touching", NewBox(0, 0, 10, 10), NewBox(10, 0, 20, 10), 0},
		{"half overlap", NewBox(0, 0, 10, 10), NewBox(5, 0, 15, 10), 50.0 / 150.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.a.IoU(tt.b), 1e-9)
			assert.InDelta(t, tt.want, tt.b.IoU(tt.a), 1e-9)
		})
	}
}

func TestBoxToRect_ClampsToBounds(t *testing.T) {
	r := NewBox(-5, -5, 200, 50.2).ToRect(image.Rect(0, 0, 100, 100))
	assert.Equal(t, image.Rect(0, 0, 100, 51), r)
}

func TestCropImageBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	crop := CropImageBox(img, NewBox(10, 5, 30, 25))
	assert.Equal(t, 20, crop.Bounds().Dx())
	assert.Equal(t, 20, crop.Bounds().Dy())
}

func TestRotate90_SwapsDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 30))
	out := Rotate90(img)
	assert.Equal(t, 30, out.Bounds().Dx())
	assert.Equal(t, 10, out.Bounds().Dy())
}

func TestDrawRect(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	red := color.RGBA{R: 255, A: 255}
	DrawRect(dst, image.Rect(2, 2, 10, 10), red, 1)
	assert.Equal(t, red, dst.RGBAAt(2, 2))
	assert.Equal(t, red, dst.RGBAAt(9, 5))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(5, 5))
}

func TestDrawLabel_WritesPixels(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 120, 60))
	bg := color.RGBA{G: 255, A: 255}
	DrawLabel(dst, image.Pt(5, 40), "12.34", color.Black, bg)
	assert.Equal(t, bg, dst.RGBAAt(5, 40-14))
	DrawLabel(dst, image.Pt(5, 40), "", color.Black, bg)
}
