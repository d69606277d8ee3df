// Package testutil provides fixtures shared by package and integration tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MeterImageConfig describes a synthetic meter photo.
type MeterImageConfig struct {
	Width   int
	Height  int
	Reading string
	Body    color.Color
	Display color.Color
	Digits  color.Color
}

// DefaultMeterImageConfig returns a small gray meter with a dark display.
func DefaultMeterImageConfig() MeterImageConfig {
	return MeterImageConfig{
		Width:   320,
		Height:  240,
		Reading: "12345,6",
		Body:    color.RGBA{R: 200, G: 200, B: 195, A: 255},
		Display: color.RGBA{R: 30, G: 40, B: 30, A: 255},
		Digits:  color.RGBA{R: 180, G: 255, B: 180, A: 255},
	}
}

// GenerateMeterImage draws a meter body with a display window holding the
// reading. It returns the image and the display rectangle.
func GenerateMeterImage(cfg MeterImageConfig) (*image.RGBA, image.Rectangle) {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(cfg.Body), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	textW := font.MeasureString(face, cfg.Reading).Ceil()
	textH := face.Metrics().Height.Ceil()
	display := image.Rect(0, 0, textW+16, textH+10).
		Add(image.Pt((cfg.Width-textW-16)/2, cfg.Height/3))
	draw.Draw(img, display, image.NewUniform(cfg.Display), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(cfg.Digits),
		Face: face,
		Dot:  fixed.P(display.Min.X+8, display.Min.Y+5+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(cfg.Reading)
	return img, display
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// EncodePNG encodes img as PNG.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// MeterJPEG returns the default synthetic meter photo as JPEG bytes.
func MeterJPEG(t testing.TB) []byte {
	t.Helper()
	img, _ := GenerateMeterImage(DefaultMeterImageConfig())
	return EncodeJPEG(t, img)
}
