package jobs

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/MeKo-Tech/emeter/internal/utils"
)

// Processor runs inference on one image.
type Processor interface {
	Process(ctx context.Context, img image.Image) (*pipeline.Result, error)
}

// Outcome is what a successful unit of work produced.
type Outcome struct {
	OutputPath string
	Values     []string
}

// OutputPath returns where the annotated image of job id is written.
func OutputPath(dir, id string) string {
	return filepath.Join(dir, "processed_"+id+".jpg")
}

// InputPath returns where the upload of job id is stored.
func InputPath(dir, id string) string {
	return filepath.Join(dir, id+".jpg")
}

// worker dispatches queued jobs. It never waits for the work it spawns.
type worker struct {
	registry *Registry
	queue    *Queue
	proc     Processor
	dir      string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// run loops until the queue is closed or ctx is done.
func (w *worker) run(ctx context.Context) {
	// in-flight work outlives the dispatcher; shutdown waits on wg instead
	workCtx := context.WithoutCancel(ctx)
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				w.logger.Error("Dequeue failed", "error", err)
			}
			return
		}
		if err := w.registry.Transition(id, StateProcessing, Result{}); err != nil {
			w.logger.Warn("Skipping job", "job_id", id, "error", err)
			continue
		}
		w.wg.Add(1)
		go w.handle(workCtx, id)
	}
}

// handle runs one unit of work and records its terminal state.
func (w *worker) handle(ctx context.Context, id string) {
	start := time.Now()
	jobsInFlight.Inc()
	defer func() {
		jobsInFlight.Dec()
		jobDuration.Observe(time.Since(start).Seconds())
		w.wg.Done()
	}()

	job, err := w.registry.Get(id)
	if err != nil {
		w.logger.Error("Job vanished before processing", "job_id", id, "error", err)
		return
	}

	out, err := w.safeProcess(ctx, job)
	if err != nil {
		w.logger.Error("Error occurred while processing the image", "job_id", id, "error", err)
		if terr := w.registry.Transition(id, StateFailed, Result{Err: err.Error()}); terr != nil {
			w.logger.Error("Failed to record job failure", "job_id", id, "error", terr)
		}
		jobsTotal.WithLabelValues(string(StateFailed)).Inc()
		return
	}

	if err := w.registry.Transition(id, StateCompleted, Result{OutputPath: out.OutputPath, Values: out.Values}); err != nil {
		w.logger.Error("Failed to publish job result", "job_id", id, "error", err)
		return
	}
	jobsTotal.WithLabelValues(string(StateCompleted)).Inc()
	valuesPerJob.Observe(float64(len(out.Values)))
	w.logger.Info("File processed", "job_id", id, "values", out.Values,
		"duration_ms", time.Since(start).Milliseconds())
}

// safeProcess converts a panic in the unit of work into an InferenceError.
func (w *worker) safeProcess(ctx context.Context, job Job) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InferenceError{JobID: job.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.process(ctx, job)
}

// process loads the upload, runs the pipeline and writes the overlay.
func (w *worker) process(ctx context.Context, job Job) (Outcome, error) {
	img, err := utils.LoadImage(job.InputPath)
	if err != nil {
		return Outcome{}, &IOError{Op: "load", Path: job.InputPath, Err: err}
	}

	res, err := w.proc.Process(ctx, img)
	if err != nil {
		return Outcome{}, &InferenceError{JobID: job.ID, Err: err}
	}
	if res == nil {
		return Outcome{}, &InferenceError{JobID: job.ID, Err: errors.New("pipeline returned no result")}
	}

	var overlay image.Image = img
	if res.Overlay != nil {
		overlay = res.Overlay
	}
	outPath := OutputPath(w.dir, job.ID)
	if err := utils.SaveJPEG(overlay, outPath); err != nil {
		// a failed encode can leave a partial file that no record points at
		if rerr := os.Remove(outPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			w.logger.Warn("Failed to remove partial result", "job_id", job.ID, "path", outPath, "error", rerr)
		}
		return Outcome{}, &IOError{Op: "save", Path: outPath, Err: err}
	}
	values := res.Values
	if values == nil {
		values = []string{}
	}
	return Outcome{OutputPath: outPath, Values: values}, nil
}
