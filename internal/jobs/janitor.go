package jobs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"
)

const (
	// DefaultResultTTL is how long a finished job stays retrievable.
	DefaultResultTTL = 120 * time.Second
	// DefaultCleanupInterval is the janitor sweep period.
	DefaultCleanupInterval = 30 * time.Second
)

// Janitor removes finished jobs and their files once they outlive the TTL.
type Janitor struct {
	registry *Registry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewJanitor creates a janitor. ttl <= 0 disables reclamation.
func NewJanitor(registry *Registry, ttl, interval time.Duration, now func() time.Time, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{registry: registry, ttl: ttl, interval: interval, now: now, logger: logger}
}

// Enabled reports whether the janitor reclaims anything.
func (j *Janitor) Enabled() bool { return j.ttl > 0 }

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if !j.Enabled() {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.Sweep(j.now()); n > 0 {
				j.logger.Info("Expired jobs removed", "count", n)
			}
		}
	}
}

// Sweep removes terminal jobs whose completion is older than the TTL and
// returns how many were removed. Queued and processing jobs are never touched.
func (j *Janitor) Sweep(now time.Time) int {
	if !j.Enabled() {
		return 0
	}
	expired := j.registry.Snapshot(func(job Job) bool {
		return job.State.IsTerminal() && now.Sub(job.CompletedAt) > j.ttl
	})
	for _, job := range expired {
		j.removeFile(job.ID, job.InputPath)
		j.removeFile(job.ID, job.OutputPath)
		j.registry.Remove(job.ID)
		j.logger.Debug("Job expired", "job_id", job.ID, "state", job.State)
	}
	janitorPurged.Add(float64(len(expired)))
	return len(expired)
}

func (j *Janitor) removeFile(id, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.logger.Warn("Failed to remove job file", "job_id", id, "path", path, "error", err)
	}
}
