package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/emeter/internal/detector"
	"github.com/MeKo-Tech/emeter/internal/recognizer"
)

// Process reads every indicator in img: detect, keep indicator boxes above the
// confidence threshold, crop, recognize, decode and render an overlay.
func (p *Pipeline) Process(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if p.det == nil || p.rec == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer p.sem.Release(1)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	b := img.Bounds()
	res := &Result{Width: b.Dx(), Height: b.Dy(), Values: []string{}, Readings: []Reading{}}

	dets, err := p.det.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	res.Detections = dets
	res.Timing.DetectionNs = time.Since(start).Nanoseconds()

	indicators := detector.FilterClass(dets, p.cfg.IndicatorClass, p.cfg.ConfidenceThreshold)
	crops := make([]image.Image, 0, len(indicators))
	kept := make([]Reading, 0, len(indicators))
	for _, d := range indicators {
		crop, rotated, err := recognizer.CropRegion(img, d.Box)
		if err != nil {
			slog.Debug("Skipping indicator region", "box", d.Box, "error", err)
			continue
		}
		crops = append(crops, crop)
		kept = append(kept, Reading{Detection: d, Rotated: rotated})
	}

	if len(crops) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recStart := time.Now()
		scores, err := p.rec.Recognize(crops)
		if err != nil {
			return nil, fmt.Errorf("recognition failed: %w", err)
		}
		if len(scores) != len(crops) {
			return nil, fmt.Errorf("recognizer returned %d results for %d crops", len(scores), len(crops))
		}
		res.Timing.RecognitionNs = time.Since(recStart).Nanoseconds()

		decStart := time.Now()
		decoded := p.decoder.DecodeBatchWithConfidence(scores)
		res.Timing.DecodeNs = time.Since(decStart).Nanoseconds()
		values := make([]string, len(decoded))
		for i, d := range decoded {
			kept[i].Value = d.Value
			kept[i].Confidence = d.Confidence
			values[i] = d.Value
		}
		res.Values = values
		res.Readings = kept
	}

	res.Overlay = RenderOverlay(img, res.Detections, res.Readings, p.cfg.IndicatorClass)
	res.Timing.TotalNs = time.Since(start).Nanoseconds()
	slog.Debug("Image processed",
		"detections", len(dets),
		"indicators", len(res.Readings),
		"values", res.Values,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}
