// Package batch reads many meter images with a bounded number of readings
// in flight.
package batch

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/MeKo-Tech/emeter/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Processor runs the reading pipeline on one image.
type Processor interface {
	Process(ctx context.Context, img image.Image) (*pipeline.Result, error)
}

// Item is the outcome for one input path. Image is kept so callers can
// render overlays without decoding the file again.
type Item struct {
	Path   string
	Image  image.Image
	Result *pipeline.Result
	Err    error
}

// Process loads and reads every path with at most workers readings in
// flight. Results keep the order of paths. A failed item does not stop the
// others; only ctx cancellation does.
func Process(ctx context.Context, proc Processor, paths []string, workers int) ([]Item, error) {
	if workers <= 0 {
		workers = 1
	}
	items := make([]Item, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = readOne(gctx, proc, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, ctx.Err()
}

func readOne(ctx context.Context, proc Processor, path string) Item {
	item := Item{Path: path}
	img, err := utils.LoadImage(path)
	if err != nil {
		item.Err = err
		return item
	}
	item.Image = img
	res, err := proc.Process(ctx, img)
	if err != nil {
		item.Err = fmt.Errorf("%s: %w", path, err)
		return item
	}
	item.Result = res
	slog.Debug("Image read", "file", path, "values", len(res.Values), "total_ns", res.Timing.TotalNs)
	return item
}

// FirstError returns the first failed item's error in input order.
func FirstError(items []Item) error {
	for _, it := range items {
		if it.Err != nil {
			return it.Err
		}
	}
	return nil
}
