package testutil

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/MeKo-Tech/emeter/internal/utils"
)

// FakeProcessor stands in for the inference pipeline. It returns Values for
// every image, or fails, panics or blocks as configured.
type FakeProcessor struct {
	mu     sync.Mutex
	Values []string
	Err    error
	Panic  any
	Delay  time.Duration
	Gate   chan struct{} // when set, Process waits for a receive

	calls  atomic.Int64
	closed atomic.Int64
}

// Process implements the job processor contract.
func (f *FakeProcessor) Process(ctx context.Context, img image.Image) (*pipeline.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	values, err, p, delay, gate := f.Values, f.Err, f.Panic, f.Delay, f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if p != nil {
		panic(p)
	}
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	out := append([]string{}, values...)
	return &pipeline.Result{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Values:   out,
		Readings: []pipeline.Reading{},
		Overlay:  utils.ToRGBA(img),
	}, nil
}

// Set replaces the configured outcome.
func (f *FakeProcessor) Set(values []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Values, f.Err = values, err
}

// SetPanic replaces the value Process panics with; nil disables panicking.
func (f *FakeProcessor) SetPanic(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Panic = v
}

// SetGate makes Process wait for a receive on gate; nil disables waiting.
func (f *FakeProcessor) SetGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gate = gate
}

// Calls returns how many times Process ran.
func (f *FakeProcessor) Calls() int64 { return f.calls.Load() }

// Closed returns how many times Close ran.
func (f *FakeProcessor) Closed() int64 { return f.closed.Load() }

// Close records the call.
func (f *FakeProcessor) Close() error {
	f.closed.Add(1)
	return nil
}
