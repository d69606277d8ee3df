package pipeline

import (
	"image"

	"github.com/MeKo-Tech/emeter/internal/detector"
)

// Reading pairs a decoded value with the indicator box it came from.
type Reading struct {
	Value      string             `json:"value"`
	Confidence float64            `json:"confidence"` // mean character probability of the decoded path
	Detection  detector.Detection `json:"detection"`
	Rotated    bool               `json:"rotated"`
}

// Timing records how long each stage took in nanoseconds.
type Timing struct {
	DetectionNs   int64 `json:"detection_ns"`
	RecognitionNs int64 `json:"recognition_ns"`
	DecodeNs      int64 `json:"decode_ns"`
	TotalNs       int64 `json:"total_ns"`
}

// Result is the outcome of one image. Values has one entry per indicator
// region in detection order and is empty, never nil, when none were found.
type Result struct {
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Values     []string             `json:"values"`
	Readings   []Reading            `json:"readings"`
	Detections []detector.Detection `json:"detections"`
	Overlay    *image.RGBA          `json:"-"`
	Timing     Timing               `json:"timing"`
}
