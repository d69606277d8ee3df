package recognizer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/emeter/internal/models"
	"github.com/MeKo-Tech/emeter/internal/onnx"
)

// Config holds configuration for the reading recognizer.
type Config struct {
	ModelPath   string // Path to ONNX CRNN model
	DictPath    string // Optional vocabulary file; empty uses the built-in alphabet
	ImageHeight int
	ImageWidth  int
	BeamWidth   int
	NumThreads  int  // Number of CPU threads (0 for default)
	BatchFirst  bool // Model output is [B, T, N] instead of [T, B, N]
	GPU         onnx.GPUConfig
}

// DefaultConfig returns a default recognizer configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:   models.GetRecognizerModelPath(""),
		ImageHeight: DefaultImageHeight,
		ImageWidth:  DefaultImageWidth,
		BeamWidth:   DefaultBeamWidth,
		GPU:         onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath points ModelPath and DictPath at modelsDir.
func (c *Config) UpdateModelPath(modelsDir string) {
	c.ModelPath = models.GetRecognizerModelPath(modelsDir)
	if c.DictPath == "" {
		c.DictPath = models.GetVocabularyPath(modelsDir)
	}
}

// Recognizer runs the CRNN model on indicator crops and returns raw score
// matrices for CTC decoding.
type Recognizer struct {
	config  Config
	session *onnx.Session
	vocab   *Vocabulary
	mu      sync.RWMutex
}

// NewRecognizer opens the recognition model and loads its vocabulary.
func NewRecognizer(config Config) (*Recognizer, error) {
	if config.ImageHeight <= 0 {
		config.ImageHeight = DefaultImageHeight
	}
	if config.ImageWidth <= 0 {
		config.ImageWidth = DefaultImageWidth
	}

	vocab := DefaultVocabulary()
	if config.DictPath != "" {
		v, err := LoadVocabulary(config.DictPath)
		if err != nil {
			return nil, err
		}
		vocab = v
	}

	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("Recognizer loaded", "model", config.ModelPath, "vocabulary_size", vocab.Size())

	return &Recognizer{config: config, session: session, vocab: vocab}, nil
}

// Vocabulary returns the vocabulary matching the model output classes.
func (r *Recognizer) Vocabulary() *Vocabulary { return r.vocab }

// GetConfig returns a copy of the recognizer's configuration.
func (r *Recognizer) GetConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Recognize runs the model on each crop in order and returns one [T, N]
// score matrix per crop.
func (r *Recognizer) Recognize(crops []image.Image) ([]ScoreMatrix, error) {
	r.mu.RLock()
	sess := r.session
	cfg := r.config
	r.mu.RUnlock()
	if sess == nil {
		return nil, errors.New("recognizer is closed")
	}

	out := make([]ScoreMatrix, 0, len(crops))
	for i, crop := range crops {
		prepared, err := PrepareCrop(crop, cfg.ImageHeight, cfg.ImageWidth)
		if err != nil {
			return nil, fmt.Errorf("crop %d: %w", i, err)
		}
		tensor, err := NormalizeForRecognition(prepared)
		if err != nil {
			return nil, fmt.Errorf("crop %d: %w", i, err)
		}
		data, shape, err := sess.Run(tensor)
		if err != nil {
			return nil, fmt.Errorf("crop %d: %w", i, err)
		}
		m, err := r.scoresFromOutput(data, shape, cfg.BatchFirst)
		if err != nil {
			return nil, fmt.Errorf("crop %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Recognizer) scoresFromOutput(data []float32, shape []int64, batchFirst bool) (ScoreMatrix, error) {
	if batchFirst && len(shape) == 3 {
		shape = []int64{shape[1], shape[0], shape[2]}
	}
	x, err := TensorFromShape(data, shape)
	if err != nil {
		return ScoreMatrix{}, err
	}
	if x.N != r.vocab.Size() {
		return ScoreMatrix{}, fmt.Errorf("model emits %d classes, vocabulary has %d", x.N, r.vocab.Size())
	}
	if x.B != 1 {
		return ScoreMatrix{}, fmt.Errorf("expected a single batch element, got %d", x.B)
	}
	if batchFirst {
		// [1, T, N] is already contiguous per timestep
		return NewScoreMatrix(x.Data, x.T, x.N)
	}
	ms, err := x.Split()
	if err != nil {
		return ScoreMatrix{}, err
	}
	return ms[0], nil
}

// Close releases resources used by the recognizer.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}
