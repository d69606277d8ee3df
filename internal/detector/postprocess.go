package detector

import (
	"fmt"

	"github.com/MeKo-Tech/emeter/internal/utils"
)

// DecodeOutput parses a YOLO head of shape [1, 4+C, A] where each anchor column
// holds cx, cy, w, h followed by C class scores. The best class per anchor is
// kept when its score reaches minConf. Boxes stay in model input space.
func DecodeOutput(data []float32, shape []int64, minConf float64) ([]Detection, error) {
	if len(shape) == 2 {
		shape = append([]int64{1}, shape...)
	}
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected detector output shape %v", shape)
	}
	rows, anchors := int(shape[1]), int(shape[2])
	if rows < 5 {
		return nil, fmt.Errorf("detector output has %d rows, need at least 5", rows)
	}
	if len(data) != rows*anchors {
		return nil, fmt.Errorf("detector output length %d does not match shape %v", len(data), shape)
	}
	classes := rows - 4
	at := func(r, a int) float64 { return float64(data[r*anchors+a]) }

	var dets []Detection
	for a := range anchors {
		best, bestScore := -1, 0.0
		for c := range classes {
			if s := at(4+c, a); best < 0 || s > bestScore {
				best, bestScore = c, s
			}
		}
		if bestScore < minConf {
			continue
		}
		box := utils.BoxFromCenter(at(0, a), at(1, a), at(2, a), at(3, a))
		if box.Area() == 0 {
			continue
		}
		dets = append(dets, Detection{ClassIndex: best, Box: box, Confidence: bestScore})
	}
	return dets, nil
}

// FilterClass returns detections of class idx with confidence at least minConf,
// preserving order.
func FilterClass(dets []Detection, idx int, minConf float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.ClassIndex == idx && d.Confidence >= minConf {
			out = append(out, d)
		}
	}
	return out
}
