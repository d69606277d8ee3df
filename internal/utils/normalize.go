package utils

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// NormalizeImage converts an image to a float32 NCHW buffer in [0,1] and
// returns it together with the width and height.
func NormalizeImage(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}
	nrgba := imaging.Clone(img)
	width, height := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	plane := width * height
	tensor := make([]float32, 3*plane)
	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range width {
			i := y*width + x
			tensor[i] = float32(row[x*4]) / 255.0
			tensor[plane+i] = float32(row[x*4+1]) / 255.0
			tensor[2*plane+i] = float32(row[x*4+2]) / 255.0
		}
	}
	return tensor, width, height, nil
}

// EqualizeHistogram converts img to grayscale and spreads its intensity
// histogram over the full range. The result keeps three identical channels.
func EqualizeHistogram(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	var hist [256]int
	for y := range b.Dy() {
		row := gray.Pix[y*gray.Stride:]
		for x := range b.Dx() {
			hist[row[x*4]]++
		}
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return gray
	}
	var lut [256]uint8
	cdf, cdfMin := 0, 0
	for v := range 256 {
		cdf += hist[v]
		if cdfMin == 0 && cdf > 0 {
			cdfMin = cdf
		}
		if total == cdfMin {
			lut[v] = uint8(v)
			continue
		}
		scaled := float64(cdf-cdfMin) / float64(total-cdfMin) * 255
		if scaled < 0 {
			scaled = 0
		}
		lut[v] = uint8(scaled + 0.5)
	}
	for y := range b.Dy() {
		row := gray.Pix[y*gray.Stride:]
		for x := range b.Dx() {
			v := lut[row[x*4]]
			row[x*4], row[x*4+1], row[x*4+2] = v, v, v
		}
	}
	return gray
}
