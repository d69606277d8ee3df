package detector

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/emeter/internal/models"
	"github.com/MeKo-Tech/emeter/internal/onnx"
	"github.com/MeKo-Tech/emeter/internal/utils"
)

const (
	// DefaultConfidenceThreshold is the minimum score for a detection to be reported.
	DefaultConfidenceThreshold = 0.59
	// DefaultIoUThreshold is the overlap above which lower-scored boxes are suppressed.
	DefaultIoUThreshold = 0.45
	// DefaultInputSize is the square model input edge in pixels.
	DefaultInputSize = 640
)

// Config holds configuration for the meter detector.
type Config struct {
	ModelPath           string
	ConfidenceThreshold float64
	IoUThreshold        float64
	InputSize           int
	ClassNames          []string // Optional names indexed by class
	NumThreads          int
	GPU                 onnx.GPUConfig
}

// DefaultConfig returns a default detector configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:           models.GetDetectorModelPath(""),
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
		InputSize:           DefaultInputSize,
		ClassNames:          []string{"indicator"},
		GPU:                 onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath points ModelPath at modelsDir.
func (c *Config) UpdateModelPath(modelsDir string) {
	c.ModelPath = models.GetDetectorModelPath(modelsDir)
}

func validateConfig(c Config) error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be in [0,1], got %f", c.IoUThreshold)
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return fmt.Errorf("input size must be a positive multiple of 32, got %d", c.InputSize)
	}
	return nil
}

// Detection is one labelled box in original image coordinates.
type Detection struct {
	ClassIndex int       `json:"class"`
	ClassName  string    `json:"name,omitempty"`
	Box        utils.Box `json:"box"`
	Confidence float64   `json:"confidence"`
}

// Detector locates meter display regions with a YOLO model.
type Detector struct {
	config  Config
	session *onnx.Session
	mu      sync.RWMutex
}

// NewDetector opens the detection model.
func NewDetector(config Config) (*Detector, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	slog.Debug("Initializing detector",
		"model_path", config.ModelPath,
		"gpu_enabled", config.GPU.UseGPU,
		"input_size", config.InputSize,
		"confidence_threshold", config.ConfidenceThreshold)

	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, err
	}
	if shape := session.InputShape(); len(shape) == 4 && shape[2] > 0 && int(shape[2]) != config.InputSize {
		slog.Warn("Model input size differs from configuration, using model size",
			"configured", config.InputSize, "model", shape[2])
		config.InputSize = int(shape[2])
	}
	slog.Debug("Detector initialized successfully")
	return &Detector{config: config, session: session}, nil
}

// GetConfig returns a copy of the detector's configuration.
func (d *Detector) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Detect runs the model on img and returns detections above the confidence
// threshold after non-maximum suppression, highest confidence first.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	d.mu.RLock()
	sess := d.session
	cfg := d.config
	d.mu.RUnlock()
	if sess == nil {
		return nil, errors.New("detector is closed")
	}

	start := time.Now()
	lb, err := Letterbox(img, cfg.InputSize)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess image: %w", err)
	}
	data, shape, err := sess.Run(lb.Tensor)
	if err != nil {
		return nil, err
	}
	dets, err := DecodeOutput(data, shape, cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	for i := range dets {
		dets[i].Box = lb.Unmap(dets[i].Box, bounds)
		dets[i].ClassName = className(cfg.ClassNames, dets[i].ClassIndex)
	}
	dets = NonMaxSuppression(dets, cfg.IoUThreshold)
	slog.Debug("Detection complete", "detections", len(dets), "duration_ms", time.Since(start).Milliseconds())
	return dets, nil
}

func className(names []string, idx int) string {
	if idx >= 0 && idx < len(names) {
		return names[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// Warmup runs a number of forward passes with a blank image to reduce first-run latency.
func (d *Detector) Warmup(iterations int) error {
	if iterations <= 0 {
		return nil
	}
	d.mu.RLock()
	sess := d.session
	size := d.config.InputSize
	d.mu.RUnlock()
	if sess == nil {
		return errors.New("detector is closed")
	}
	blank := onnx.Tensor{Data: make([]float32, 3*size*size), Shape: []int64{1, 3, int64(size), int64(size)}}
	for i := range iterations {
		if _, _, err := sess.Run(blank); err != nil {
			return fmt.Errorf("warmup iteration %d failed: %w", i, err)
		}
	}
	return nil
}

// Close releases resources used by the detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}
