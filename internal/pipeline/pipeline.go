package pipeline

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/emeter/internal/detector"
	"github.com/MeKo-Tech/emeter/internal/models"
	"github.com/MeKo-Tech/emeter/internal/recognizer"
	"golang.org/x/sync/semaphore"
)

// Detector finds labelled regions in an image.
type Detector interface {
	Detect(img image.Image) ([]detector.Detection, error)
	Close() error
}

// Recognizer produces one score matrix per crop, in crop order.
type Recognizer interface {
	Recognize(crops []image.Image) ([]recognizer.ScoreMatrix, error)
	Close() error
}

// Config holds configuration for the reading pipeline and its components.
type Config struct {
	ModelsDir           string
	Detector            detector.Config
	Recognizer          recognizer.Config
	IndicatorClass      int     // detector class holding the digit display
	ConfidenceThreshold float64 // minimum detection confidence for recognition
	MaxInFlight         int     // concurrent Process calls, 0 for unlimited
	WarmupIterations    int     // optional warmup runs per model to reduce first-run latency
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir:           models.GetModelsDir(""),
		Detector:            detector.DefaultConfig(),
		Recognizer:          recognizer.DefaultConfig(),
		IndicatorClass:      0,
		ConfidenceThreshold: detector.DefaultConfidenceThreshold,
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg Config
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts from an existing configuration.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithModelsDir sets the models directory and updates component model paths.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	b.cfg.Detector.UpdateModelPath(b.cfg.ModelsDir)
	b.cfg.Recognizer.UpdateModelPath(b.cfg.ModelsDir)
	return b
}

// WithDetectorModelPath overrides the detector model path directly.
func (b *Builder) WithDetectorModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
	}
	return b
}

// WithRecognizerModelPath overrides the recognizer model path directly.
func (b *Builder) WithRecognizerModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Recognizer.ModelPath = path
	}
	return b
}

// WithVocabularyPath overrides the recognizer vocabulary file.
func (b *Builder) WithVocabularyPath(path string) *Builder {
	if path != "" {
		b.cfg.Recognizer.DictPath = path
	}
	return b
}

// WithConfidenceThreshold sets the minimum indicator confidence.
func (b *Builder) WithConfidenceThreshold(th float64) *Builder {
	if th > 0 && th <= 1 {
		b.cfg.ConfidenceThreshold = th
		b.cfg.Detector.ConfidenceThreshold = th
	}
	return b
}

// WithIndicatorClass selects the detector class that holds the reading.
func (b *Builder) WithIndicatorClass(idx int) *Builder {
	if idx >= 0 {
		b.cfg.IndicatorClass = idx
	}
	return b
}

// WithBeamWidth sets the CTC beam width.
func (b *Builder) WithBeamWidth(w int) *Builder {
	if w > 0 {
		b.cfg.Recognizer.BeamWidth = w
	}
	return b
}

// WithThreads sets intra-op thread counts for both models (if >0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		b.cfg.Detector.NumThreads = n
		b.cfg.Recognizer.NumThreads = n
	}
	return b
}

// WithMaxInFlight bounds concurrent inference calls. Zero removes the bound.
func (b *Builder) WithMaxInFlight(n int) *Builder {
	if n >= 0 {
		b.cfg.MaxInFlight = n
	}
	return b
}

// WithWarmupIterations sets model warmup runs to reduce cold-start latency.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// WithGPU enables GPU acceleration for both models.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Detector.GPU.UseGPU = enabled
	b.cfg.Recognizer.GPU.UseGPU = enabled
	return b
}

// WithGPUDevice sets the CUDA device ID for both models.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	b.cfg.Detector.GPU.DeviceID = deviceID
	b.cfg.Recognizer.GPU.DeviceID = deviceID
	return b
}

// WithGPUMemoryLimit sets the GPU memory limit for both models.
func (b *Builder) WithGPUMemoryLimit(limitBytes uint64) *Builder {
	b.cfg.Detector.GPU.GPUMemLimit = limitBytes
	b.cfg.Recognizer.GPU.GPUMemLimit = limitBytes
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that model files exist and configuration looks sane.
func (b *Builder) Validate() error {
	if b.cfg.Detector.ModelPath == "" {
		return errors.New("detector model path is empty")
	}
	if b.cfg.Recognizer.ModelPath == "" {
		return errors.New("recognizer model path is empty")
	}
	if _, err := os.Stat(b.cfg.Detector.ModelPath); err != nil {
		return fmt.Errorf("detector model not found: %s", b.cfg.Detector.ModelPath)
	}
	if _, err := os.Stat(b.cfg.Recognizer.ModelPath); err != nil {
		return fmt.Errorf("recognizer model not found: %s", b.cfg.Recognizer.ModelPath)
	}
	if b.cfg.Recognizer.DictPath != "" {
		if _, err := os.Stat(b.cfg.Recognizer.DictPath); err != nil {
			return fmt.Errorf("vocabulary not found: %s", b.cfg.Recognizer.DictPath)
		}
	}
	if b.cfg.ConfidenceThreshold < 0 || b.cfg.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %f", b.cfg.ConfidenceThreshold)
	}
	if b.cfg.MaxInFlight < 0 {
		return errors.New("max in flight must be >= 0")
	}
	return nil
}

// Build opens both ONNX models and assembles the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	det, err := detector.NewDetector(b.cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("init detector: %w", err)
	}
	rec, err := recognizer.NewRecognizer(b.cfg.Recognizer)
	if err != nil {
		_ = det.Close()
		return nil, fmt.Errorf("init recognizer: %w", err)
	}
	if b.cfg.WarmupIterations > 0 {
		if err := det.Warmup(b.cfg.WarmupIterations); err != nil {
			_ = rec.Close()
			_ = det.Close()
			return nil, fmt.Errorf("detector warmup failed: %w", err)
		}
	}
	return New(b.cfg, rec.Vocabulary(), det, rec), nil
}

// Pipeline wires together the detector, the recognizer and the CTC decoder.
type Pipeline struct {
	cfg       Config
	det       Detector
	rec       Recognizer
	decoder   *recognizer.CTCDecoder
	sem       *semaphore.Weighted
	closeOnce sync.Once
	closeErr  error
}

// New assembles a pipeline from already constructed providers. A nil vocab
// selects the default meter alphabet. The pipeline takes ownership of both
// providers and closes them in Close.
func New(cfg Config, vocab *recognizer.Vocabulary, det Detector, rec Recognizer) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		det:     det,
		rec:     rec,
		decoder: recognizer.NewCTCDecoder(vocab, cfg.Recognizer.BeamWidth),
	}
	if cfg.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	slog.Debug("Pipeline ready",
		"indicator_class", cfg.IndicatorClass,
		"confidence_threshold", cfg.ConfidenceThreshold,
		"beam_width", p.decoder.BeamWidth(),
		"max_in_flight", cfg.MaxInFlight)
	return p
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Decoder returns the CTC decoder used for readings.
func (p *Pipeline) Decoder() *recognizer.CTCDecoder { return p.decoder }

// Close releases both providers. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		if p.rec != nil {
			if err := p.rec.Close(); err != nil {
				p.closeErr = err
			}
		}
		if p.det != nil {
			if err := p.det.Close(); err != nil && p.closeErr == nil {
				p.closeErr = err
			}
		}
	})
	return p.closeErr
}
