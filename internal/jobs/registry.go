package jobs

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Result is what a transition publishes. Only the fields relevant to the
// target state are used.
type Result struct {
	OutputPath string
	Values     []string
	Err        string
}

// Registry is the single source of truth for job state.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewRegistry creates an empty registry. A nil clock uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{jobs: make(map[string]*Job), now: now}
}

// Put stores a new job.
func (r *Registry) Put(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	j := job.clone()
	r.jobs[job.ID] = &j
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.clone(), nil
}

// Remove deletes the job record. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Transition moves a job to state to and publishes res in the same critical
// section, so readers observe either the old state or the complete new one.
func (r *Registry) Transition(id string, to State, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ValidateTransition(j.State, to); err != nil {
		return err
	}
	now := r.now()
	switch to {
	case StateProcessing:
		j.StartedAt = now
	case StateCompleted:
		j.OutputPath = res.OutputPath
		j.Values = slices.Clone(res.Values)
		if j.Values == nil {
			j.Values = []string{}
		}
		j.CompletedAt = now
	case StateFailed:
		j.Err = res.Err
		j.CompletedAt = now
	}
	j.State = to
	return nil
}

// Snapshot returns copies of all jobs accepted by filter. A nil filter
// selects every job.
func (r *Registry) Snapshot(filter func(Job) bool) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		c := j.clone()
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	return out
}

// Counts returns the number of jobs per state.
func (r *Registry) Counts() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[State]int{StateQueued: 0, StateProcessing: 0, StateCompleted: 0, StateFailed: 0}
	for _, j := range r.jobs {
		counts[j.State]++
	}
	return counts
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
