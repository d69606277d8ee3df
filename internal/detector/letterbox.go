package detector

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/emeter/internal/onnx"
	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/disintegration/imaging"
)

// padColor is the neutral gray YOLO models are trained with.
var padColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// LetterboxResult is a square model input plus the transform back to the
// source image.
type LetterboxResult struct {
	Tensor onnx.Tensor
	Scale  float64
	PadX   int
	PadY   int
}

// Letterbox resizes img to fit a size×size square preserving aspect ratio and
// pads the remainder with gray.
func Letterbox(img image.Image, size int) (LetterboxResult, error) {
	if img == nil {
		return LetterboxResult{}, errors.New("input image is nil")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return LetterboxResult{}, errors.New("input image is empty")
	}
	if size <= 0 {
		return LetterboxResult{}, errors.New("letterbox size must be positive")
	}
	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	padX := (size - w) / 2
	padY := (size - h) / 2

	canvas := imaging.New(size, size, padColor)
	resized := imaging.Resize(img, w, h, imaging.Linear)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	data, cw, ch, err := utils.NormalizeImage(canvas)
	if err != nil {
		return LetterboxResult{}, err
	}
	tensor, err := onnx.NewImageTensor(data, 3, ch, cw)
	if err != nil {
		return LetterboxResult{}, err
	}
	return LetterboxResult{Tensor: tensor, Scale: scale, PadX: padX, PadY: padY}, nil
}

// Unmap converts a box from model input space to source image coordinates,
// clamped to bounds.
func (l LetterboxResult) Unmap(box utils.Box, bounds image.Rectangle) utils.Box {
	conv := func(v float64, pad, lo, hi int) float64 {
		x := (v-float64(pad))/l.Scale + float64(lo)
		return math.Max(float64(lo), math.Min(float64(hi), x))
	}
	return utils.NewBox(
		conv(box.MinX, l.PadX, bounds.Min.X, bounds.Max.X),
		conv(box.MinY, l.PadY, bounds.Min.Y, bounds.Max.Y),
		conv(box.MaxX, l.PadX, bounds.Min.X, bounds.Max.X),
		conv(box.MaxY, l.PadY, bounds.Min.Y, bounds.Max.Y),
	)
}
