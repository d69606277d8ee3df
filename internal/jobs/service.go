package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/google/uuid"
)

// DefaultTempDir is where uploads and annotated images are kept.
const DefaultTempDir = "temp"

// Config controls the job service.
type Config struct {
	TempDir         string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxQueueDepth   int
	ValidateImages  bool
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		TempDir:         DefaultTempDir,
		ResultTTL:       DefaultResultTTL,
		CleanupInterval: DefaultCleanupInterval,
		ValidateImages:  true,
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now for the registry and the janitor.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger used by the service and its goroutines.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerator replaces the UUID v4 generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// UploadResult acknowledges an accepted upload.
type UploadResult struct {
	ID     string `json:"uuid"`
	Status string `json:"status"`
}

// StatusResult is the client-facing job status.
type StatusResult struct {
	Status string `json:"status"`
}

// Stats summarizes the registry and the queue.
type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	QueueDepth int `json:"queue_depth"`
}

// Service is the orchestration facade: it accepts uploads, dispatches them
// to the processor and answers status and result queries.
type Service struct {
	cfg      Config
	proc     Processor
	registry *Registry
	queue    *Queue
	worker   *worker
	janitor  *Janitor
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	mu       sync.Mutex
	started  bool
	closing  atomic.Bool
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	shutdown sync.Once
}

// NewService creates a service around p. Call Start before uploading.
func NewService(cfg Config, p Processor, opts ...Option) (*Service, error) {
	if p == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = DefaultTempDir
	}
	if cfg.MaxQueueDepth < 0 {
		return nil, fmt.Errorf("max queue depth must be >= 0, got %d", cfg.MaxQueueDepth)
	}
	s := &Service{
		cfg:    cfg,
		proc:   p,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(s.now)
	s.queue = NewQueue(cfg.MaxQueueDepth)
	s.worker = &worker{registry: s.registry, queue: s.queue, proc: p, dir: cfg.TempDir, logger: s.logger}
	s.janitor = NewJanitor(s.registry, cfg.ResultTTL, cfg.CleanupInterval, s.now, s.logger)
	return s, nil
}

// Registry exposes the job registry.
func (s *Service) Registry() *Registry { return s.registry }

// Janitor exposes the janitor, mainly for manual sweeps.
func (s *Service) Janitor() *Janitor { return s.janitor }

// Start creates the temp directory and launches the worker and the janitor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("service already started")
	}
	if err := os.MkdirAll(s.cfg.TempDir, 0o750); err != nil {
		return &IOError{Op: "mkdir", Path: s.cfg.TempDir, Err: err}
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.worker.run(runCtx)
	}()
	go func() {
		defer s.loops.Done()
		s.janitor.Run(runCtx)
	}()
	s.logger.Info("Job service started",
		"temp_dir", s.cfg.TempDir,
		"result_ttl", s.cfg.ResultTTL,
		"cleanup_interval", s.cfg.CleanupInterval,
		"max_queue_depth", s.cfg.MaxQueueDepth)
	return nil
}

// Shutdown stops intake, closes the queue and waits for in-flight work or ctx.
// A processor implementing io.Closer is closed once work has drained.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.shutdown.Do(func() {
		s.closing.Store(true)
		if left := s.queue.Close(); len(left) > 0 {
			s.logger.Warn("Dropping queued jobs on shutdown", "count", len(left))
			s.discard(left)
		}
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.loops.Wait()
			s.worker.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for in-flight jobs: %w", ctx.Err())
			s.logger.Warn("Shutdown deadline passed, processor closes once in-flight jobs finish")
			go func() {
				<-done
				_ = s.closeProcessor()
			}()
			return
		}
		if cerr := s.closeProcessor(); cerr != nil {
			err = fmt.Errorf("closing processor: %w", cerr)
		}
		s.logger.Info("Job service stopped")
	})
	return err
}

// closeProcessor closes the processor if it implements io.Closer. It must
// only run once no job can call Process again.
func (s *Service) closeProcessor() error {
	c, ok := s.proc.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil {
		s.logger.Error("Failed to close processor", "error", err)
		return err
	}
	return nil
}

// discard forgets jobs that were never dequeued and removes their uploads.
func (s *Service) discard(ids []string) {
	for _, id := range ids {
		job, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		if err := os.Remove(job.InputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to remove dropped upload", "job_id", id, "path", job.InputPath, "error", err)
		}
		s.registry.Remove(id)
		s.logger.Debug("Dropped queued job", "job_id", id)
	}
}

// Upload stores data and queues it for processing.
func (s *Service) Upload(ctx context.Context, data []byte) (UploadResult, error) {
	if s.closing.Load() {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return UploadResult{}, ErrShuttingDown
	}
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	if len(data) == 0 {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return UploadResult{}, fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	if s.cfg.ValidateImages {
		_, format, err := utils.DecodeImageConfig(data)
		if err != nil {
			uploadsTotal.WithLabelValues("rejected").Inc()
			return UploadResult{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		s.logger.Debug("Upload validated", "format", format, "bytes", len(data))
	}

	id := s.newID()
	path := InputPath(s.cfg.TempDir, id)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return UploadResult{}, &IOError{Op: "write", Path: path, Err: err}
	}
	s.logger.Info("Upload file", "job_id", id, "bytes", len(data))

	if err := s.registry.Put(Job{ID: id, State: StateQueued, InputPath: path, CreatedAt: s.now()}); err != nil {
		_ = os.Remove(path)
		uploadsTotal.WithLabelValues("error").Inc()
		return UploadResult{}, err
	}
	if err := s.queue.Enqueue(id); err != nil {
		s.registry.Remove(id)
		_ = os.Remove(path)
		uploadsTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, ErrQueueClosed) {
			return UploadResult{}, ErrShuttingDown
		}
		return UploadResult{}, err
	}
	uploadsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("Put file to processing queue", "job_id", id)
	return UploadResult{ID: id, Status: StatusQueued}, nil
}

// CheckStatus reports the client-facing status of a job.
func (s *Service) CheckStatus(id string) (StatusResult, error) {
	job, err := s.registry.Get(id)
	if err != nil {
		return StatusResult{}, &NotFoundError{ID: id, Message: MsgImageNotFound}
	}
	return StatusResult{Status: job.State.ClientStatus()}, nil
}

func (s *Service) completed(id string) (Job, error) {
	job, err := s.registry.Get(id)
	if err != nil || job.State != StateCompleted {
		return Job{}, &NotFoundError{ID: id, Message: MsgResultNotReady}
	}
	return job, nil
}

// GetResult returns the path of the annotated image of a completed job.
func (s *Service) GetResult(id string) (string, error) {
	job, err := s.completed(id)
	if err != nil {
		return "", err
	}
	return job.OutputPath, nil
}

// GetValues returns the readings of a completed job.
func (s *Service) GetValues(id string) ([]string, error) {
	job, err := s.completed(id)
	if err != nil {
		return nil, err
	}
	return job.Values, nil
}

// Job returns a snapshot of the job record.
func (s *Service) Job(id string) (Job, error) {
	job, err := s.registry.Get(id)
	if err != nil {
		return Job{}, &NotFoundError{ID: id, Message: MsgImageNotFound}
	}
	return job, nil
}

// Stats returns per-state counts and the queue depth.
func (s *Service) Stats() Stats {
	c := s.registry.Counts()
	return Stats{
		Queued:     c[StateQueued],
		Processing: c[StateProcessing],
		Completed:  c[StateCompleted],
		Failed:     c[StateFailed],
		QueueDepth: s.queue.Len(),
	}
}
