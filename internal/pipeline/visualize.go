package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/MeKo-Tech/emeter/internal/detector"
	"github.com/MeKo-Tech/emeter/internal/utils"
)

var (
	indicatorColor = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	otherColor     = color.RGBA{R: 30, G: 120, B: 255, A: 255}
	labelText      = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// RenderOverlay draws every detection box with its class and confidence over a
// copy of img. Indicator boxes are green and carry the decoded value
// with its confidence.
func RenderOverlay(img image.Image, dets []detector.Detection, readings []Reading, indicatorClass int) *image.RGBA {
	if img == nil {
		return nil
	}
	dst := utils.ToRGBA(img)
	origin := img.Bounds().Min

	byBox := make(map[utils.Box]Reading, len(readings))
	for _, r := range readings {
		byBox[r.Detection.Box] = r
	}

	for _, d := range dets {
		col := otherColor
		if d.ClassIndex == indicatorClass {
			col = indicatorColor
		}
		rect := d.Box.ToRect(img.Bounds()).Sub(origin)
		utils.DrawRect(dst, rect, col, 2)

		name := d.ClassName
		if name == "" {
			name = fmt.Sprintf("class_%d", d.ClassIndex)
		}
		label := fmt.Sprintf("%s %.2f", name, d.Confidence)
		if r, ok := byBox[d.Box]; ok && r.Value != "" {
			label += fmt.Sprintf(" %s (%.2f)", r.Value, r.Confidence)
		}
		utils.DrawLabel(dst, rect.Min, label, labelText, col)
	}
	return dst
}
