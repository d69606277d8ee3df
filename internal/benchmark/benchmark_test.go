package benchmark

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/MeKo-Tech/emeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meterImage() image.Image {
	img, _ := testutil.GenerateMeterImage(testutil.DefaultMeterImageConfig())
	return img
}

func TestRun_Sequential(t *testing.T) {
	proc := &testutil.FakeProcessor{Values: []string{"12345.6"}, Delay: time.Millisecond}

	res, err := Run(context.Background(), "meter", proc, meterImage(), Options{Iterations: 5, Warmup: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(7), proc.Calls())
	assert.Equal(t, "meter", res.Name)
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, 1, res.Concurrency)
	assert.Zero(t, res.Errors)
	assert.Equal(t, []string{"12345.6"}, res.Values)
	assert.GreaterOrEqual(t, res.Min, time.Millisecond)
	assert.LessOrEqual(t, res.Min, res.P50)
	assert.LessOrEqual(t, res.P50, res.P95)
	assert.LessOrEqual(t, res.P95, res.Max)
	assert.Positive(t, res.Throughput)
	assert.Contains(t, res.String(), "meter: 5 iterations x1")
}

type peakProcessor struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *peakProcessor) Process(_ context.Context, img image.Image) (*pipeline.Result, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return &pipeline.Result{Values: []string{"1"}}, nil
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	proc := &peakProcessor{}
	res, err := Run(context.Background(), "parallel", proc, meterImage(), Options{Iterations: 12, Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Concurrency)
	assert.LessOrEqual(t, proc.peak.Load(), int32(3))
	assert.Greater(t, proc.peak.Load(), int32(1))
}

func TestRun_CountsErrors(t *testing.T) {
	proc := &testutil.FakeProcessor{Err: errors.New("model crashed")}
	res, err := Run(context.Background(), "broken", proc, meterImage(), Options{Iterations: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 readings failed")
	assert.Equal(t, 3, res.Errors)
	assert.Equal(t, "model crashed", res.LastError)
}

func TestRun_InvalidInput(t *testing.T) {
	proc := &testutil.FakeProcessor{}
	_, err := Run(context.Background(), "x", nil, meterImage(), DefaultOptions())
	require.Error(t, err)
	_, err = Run(context.Background(), "x", proc, nil, DefaultOptions())
	require.Error(t, err)
	_, err = Run(context.Background(), "x", proc, meterImage(), Options{})
	require.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, "x", &testutil.FakeProcessor{}, meterImage(), Options{Iterations: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPercentile(t *testing.T) {
	ds := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), Percentile(ds, 0.50))
	assert.Equal(t, time.Duration(10), Percentile(ds, 0.95))
	assert.Equal(t, time.Duration(1), Percentile(ds, 0))
	assert.Zero(t, Percentile(nil, 0.5))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(2 * time.Millisecond)
	d := timer.Stop()
	assert.GreaterOrEqual(t, d, 2*time.Millisecond)
	assert.Equal(t, d, timer.Duration())
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	err := Report(&buf, []Result{{Name: "meter.jpg", Iterations: 3, Concurrency: 1, Values: []string{"7.5"}}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "meter.jpg")
	assert.Contains(t, buf.String(), "7.5")
}

func TestMemoryStatsString(t *testing.T) {
	assert.Contains(t, GetMemoryStats().String(), "Alloc:")
}
