package onnx

import (
	"errors"
	"fmt"
	"os"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

// SessionConfig describes how to open a model.
type SessionConfig struct {
	ModelPath  string
	NumThreads int
	GPU        GPUConfig
}

// Session wraps a single-input single-output float32 ONNX model.
type Session struct {
	mu         sync.Mutex
	session    *onnxrt.DynamicAdvancedSession
	inputInfo  onnxrt.InputOutputInfo
	outputInfo onnxrt.InputOutputInfo
	modelPath  string
}

var initMu sync.Mutex

func ensureEnvironment(useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()
	if onnxrt.IsInitialized() {
		return nil
	}
	if err := SetLibraryPath(useGPU); err != nil {
		return fmt.Errorf("failed to set ONNX Runtime library path: %w", err)
	}
	if err := onnxrt.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// NewSession opens the model at cfg.ModelPath.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}
	if err := cfg.GPU.Validate(); err != nil {
		return nil, err
	}
	if err := ensureEnvironment(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) < 1 {
		return nil, errors.New("model has no outputs")
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if err := configureGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &Session{
		session:    sess,
		inputInfo:  inputs[0],
		outputInfo: outputs[0],
		modelPath:  cfg.ModelPath,
	}, nil
}

// InputShape returns the declared model input dimensions (-1 for dynamic).
func (s *Session) InputShape() []int64 {
	return append([]int64(nil), s.inputInfo.Dimensions...)
}

// Run executes the model and returns a copy of the first output.
// Calls are serialized per session.
func (s *Session) Run(in Tensor) ([]float32, []int64, error) {
	if err := in.ValidateNCHW(); err != nil {
		return nil, nil, fmt.Errorf("invalid input tensor: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil, errors.New("session is closed")
	}

	input, err := onnxrt.NewTensor(onnxrt.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []onnxrt.Value{nil}
	if err := s.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed for %s: %w", s.modelPath, err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 output, got %T", outputs[0])
	}
	data := append([]float32(nil), out.GetData()...)
	shape := append([]int64(nil), out.GetShape()...)
	return data, shape, nil
}

// Close releases the underlying session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
