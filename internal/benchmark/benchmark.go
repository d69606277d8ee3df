// Package benchmark measures meter reading latency and throughput for a
// single image, sequentially or with several readings in flight.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
)

// Processor runs the reading pipeline on one image.
type Processor interface {
	Process(ctx context.Context, img image.Image) (*pipeline.Result, error)
}

// Options controls a benchmark run.
type Options struct {
	Iterations  int
	Warmup      int
	Concurrency int
	Timeout     time.Duration // per reading; 0 means none
}

// DefaultOptions returns ten sequential iterations after one warmup run.
func DefaultOptions() Options {
	return Options{Iterations: 10, Warmup: 1, Concurrency: 1, Timeout: 30 * time.Second}
}

// Timer measures one elapsed interval.
type Timer struct {
	start    time.Time
	duration time.Duration
}

// NewTimer starts a timer.
func NewTimer() *Timer { return &Timer{start: time.Now()} }

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration { return t.duration }

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64  `json:"alloc_bytes"`
	TotalAllocBytes uint64  `json:"total_alloc_bytes"`
	SysBytes        uint64  `json:"sys_bytes"`
	NumGC           uint32  `json:"num_gc"`
	GCCPUFraction   float64 `json:"gc_cpu_fraction"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		GCCPUFraction:   m.GCCPUFraction,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.AllocBytes/1024, m.TotalAllocBytes/1024, m.SysBytes/1024, m.NumGC, m.GCCPUFraction*100)
}

// StageStats holds mean per-stage durations of the successful readings.
type StageStats struct {
	Detection   time.Duration `json:"detection"`
	Recognition time.Duration `json:"recognition"`
	Decode      time.Duration `json:"decode"`
}

// Result summarizes a benchmark run.
type Result struct {
	Name         string        `json:"name"`
	Iterations   int           `json:"iterations"`
	Concurrency  int           `json:"concurrency"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
	Min          time.Duration `json:"min"`
	Max          time.Duration `json:"max"`
	Mean         time.Duration `json:"mean"`
	P50          time.Duration `json:"p50"`
	P95          time.Duration `json:"p95"`
	Throughput   float64       `json:"throughput"` // readings per second
	Stages       StageStats    `json:"stages"`
	Values       []string      `json:"values"`
	MemoryBefore MemoryStats   `json:"memory_before"`
	MemoryAfter  MemoryStats   `json:"memory_after"`
	LastError    string        `json:"last_error,omitempty"`
}

// String returns a one-line summary.
func (r Result) String() string {
	memDiff := int64(r.MemoryAfter.AllocBytes) - int64(r.MemoryBefore.AllocBytes) //nolint:gosec // G115: display only
	return fmt.Sprintf("%s: %d iterations x%d, mean: %v, p50: %v, p95: %v, %.2f/s, errors: %d, mem: %+d KB",
		r.Name, r.Iterations, r.Concurrency, r.Mean, r.P50, r.P95, r.Throughput, r.Errors, memDiff/1024)
}

type sample struct {
	latency time.Duration
	timing  pipeline.Timing
	values  []string
	err     error
}

// Run processes img opts.Iterations times after opts.Warmup untimed runs.
// Failed readings are counted; Run only fails when every reading failed or
// ctx was cancelled.
func Run(ctx context.Context, name string, p Processor, img image.Image, opts Options) (Result, error) {
	if p == nil {
		return Result{}, errors.New("processor cannot be nil")
	}
	if img == nil {
		return Result{}, errors.New("image cannot be nil")
	}
	if opts.Iterations <= 0 {
		return Result{}, fmt.Errorf("iterations must be > 0, got %d", opts.Iterations)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	for range opts.Warmup {
		if _, err := once(ctx, p, img, opts.Timeout); err != nil && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}

	runtime.GC()
	memBefore := GetMemoryStats()
	timer := NewTimer()

	samples := make([]sample, opts.Iterations)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := range opts.Iterations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			res, err := once(gctx, p, img, opts.Timeout)
			s := sample{latency: time.Since(start), err: err}
			if err == nil {
				s.timing = res.Timing
				s.values = res.Values
			}
			mu.Lock()
			samples[i] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	elapsed := timer.Stop()
	res := summarize(samples)
	res.Name = name
	res.Iterations = opts.Iterations
	res.Concurrency = opts.Concurrency
	res.Duration = elapsed
	res.Throughput = float64(opts.Iterations-res.Errors) / elapsed.Seconds()
	res.MemoryBefore = memBefore
	res.MemoryAfter = GetMemoryStats()
	if res.Errors == opts.Iterations {
		return res, fmt.Errorf("all %d readings failed: %s", res.Errors, res.LastError)
	}
	return res, nil
}

func once(ctx context.Context, p Processor, img image.Image, timeout time.Duration) (*pipeline.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Process(ctx, img)
}

func summarize(samples []sample) Result {
	var res Result
	latencies := make([]time.Duration, 0, len(samples))
	var det, rec, dec int64
	for _, s := range samples {
		if s.err != nil {
			res.Errors++
			res.LastError = s.err.Error()
			continue
		}
		latencies = append(latencies, s.latency)
		det += s.timing.DetectionNs
		rec += s.timing.RecognitionNs
		dec += s.timing.DecodeNs
		res.Values = s.values
	}
	n := len(latencies)
	if n == 0 {
		return res
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	res.Min = latencies[0]
	res.Max = latencies[n-1]
	res.Mean = total / time.Duration(n)
	res.P50 = Percentile(latencies, 0.50)
	res.P95 = Percentile(latencies, 0.95)
	res.Stages = StageStats{
		Detection:   time.Duration(det / int64(n)),
		Recognition: time.Duration(rec / int64(n)),
		Decode:      time.Duration(dec / int64(n)),
	}
	return res
}

// Percentile returns the nearest-rank percentile of sorted durations.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

// Report writes results as a table, one row per image.
func Report(w io.Writer, results []Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Image", "Iterations", "Concurrency", "Mean", "P50", "P95", "Max",
		"Detection", "Recognition", "Decode", "Per Second", "Errors", "Values")
	for _, r := range results {
		if err := table.Append([]string{
			r.Name,
			strconv.Itoa(r.Iterations),
			strconv.Itoa(r.Concurrency),
			r.Mean.String(),
			r.P50.String(),
			r.P95.String(),
			r.Max.String(),
			r.Stages.Detection.String(),
			r.Stages.Recognition.String(),
			r.Stages.Decode.String(),
			fmt.Sprintf("%.2f", r.Throughput),
			strconv.Itoa(r.Errors),
			strings.Join(r.Values, ", "),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
