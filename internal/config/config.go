package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/emeter/internal/detector"
	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/MeKo-Tech/emeter/internal/models"
	"github.com/MeKo-Tech/emeter/internal/onnx"
	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/MeKo-Tech/emeter/internal/recognizer"
)

// Config represents the complete configuration for the emeter application.
// It is loaded from configuration files, environment variables and
// command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Jobs     JobsConfig     `mapstructure:"jobs" yaml:"jobs" json:"jobs"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`
	GPU      GPUConfig      `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// PipelineConfig contains inference pipeline settings.
type PipelineConfig struct {
	Detector         DetectorConfig   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Recognizer       RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	MaxInFlight      int              `mapstructure:"max_in_flight" yaml:"max_in_flight" json:"max_in_flight"`
	WarmupIterations int              `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// DetectorConfig contains meter detection settings.
type DetectorConfig struct {
	ModelPath           string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	IndicatorClass      int     `mapstructure:"indicator_class" yaml:"indicator_class" json:"indicator_class"`
	IoUThreshold        float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	InputSize           int     `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	NumThreads          int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// RecognizerConfig contains reading recognition settings.
type RecognizerConfig struct {
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	DictPath    string `mapstructure:"dict_path" yaml:"dict_path" json:"dict_path"`
	ImageHeight int    `mapstructure:"image_height" yaml:"image_height" json:"image_height"`
	ImageWidth  int    `mapstructure:"image_width" yaml:"image_width" json:"image_width"`
	BeamWidth   int    `mapstructure:"beam_width" yaml:"beam_width" json:"beam_width"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	BatchFirst  bool   `mapstructure:"batch_first" yaml:"batch_first" json:"batch_first"`
}

// JobsConfig contains background job settings.
type JobsConfig struct {
	TempDir         string        `mapstructure:"temp_dir" yaml:"temp_dir" json:"temp_dir"`
	ResultTTL       time.Duration `mapstructure:"result_ttl" yaml:"result_ttl" json:"result_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`
	MaxQueueDepth   int           `mapstructure:"max_queue_depth" yaml:"max_queue_depth" json:"max_queue_depth"`
	ValidateImages  bool          `mapstructure:"validate_images" yaml:"validate_images" json:"validate_images"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	StaticDir       string          `mapstructure:"static_dir" yaml:"static_dir" json:"static_dir"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// OutputConfig contains output formatting settings for the read command.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	rec := recognizer.DefaultConfig()
	jc := jobs.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Pipeline: PipelineConfig{
			Detector: DetectorConfig{
				ConfidenceThreshold: det.ConfidenceThreshold,
				IndicatorClass:      0,
				IoUThreshold:        det.IoUThreshold,
				InputSize:           det.InputSize,
			},
			Recognizer: RecognizerConfig{
				ImageHeight: rec.ImageHeight,
				ImageWidth:  rec.ImageWidth,
				BeamWidth:   rec.BeamWidth,
			},
		},
		Jobs: JobsConfig{
			TempDir:         jc.TempDir,
			ResultTTL:       jc.ResultTTL,
			CleanupInterval: jc.CleanupInterval,
			MaxQueueDepth:   jc.MaxQueueDepth,
			ValidateImages:  jc.ValidateImages,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
		Output: OutputConfig{Format: "text"},
		GPU: GPUConfig{
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if err := validateThreshold(c.Pipeline.Detector.ConfidenceThreshold, "detector.confidence_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Pipeline.Detector.IoUThreshold, "detector.iou_threshold"); err != nil {
		return err
	}
	if c.Pipeline.Detector.IndicatorClass < 0 {
		return fmt.Errorf("invalid detector.indicator_class: %d (must be >= 0)", c.Pipeline.Detector.IndicatorClass)
	}
	if c.Pipeline.Detector.InputSize <= 0 || c.Pipeline.Detector.InputSize%32 != 0 {
		return fmt.Errorf("invalid detector.input_size: %d (must be a positive multiple of 32)", c.Pipeline.Detector.InputSize)
	}
	if c.Pipeline.Recognizer.ImageHeight <= 0 || c.Pipeline.Recognizer.ImageWidth <= 0 {
		return fmt.Errorf("invalid recognizer image size: %dx%d (must be positive)",
			c.Pipeline.Recognizer.ImageWidth, c.Pipeline.Recognizer.ImageHeight)
	}
	if c.Pipeline.Recognizer.BeamWidth <= 0 {
		return fmt.Errorf("invalid recognizer.beam_width: %d (must be positive)", c.Pipeline.Recognizer.BeamWidth)
	}
	if c.Pipeline.MaxInFlight < 0 {
		return fmt.Errorf("invalid pipeline.max_in_flight: %d (must be >= 0)", c.Pipeline.MaxInFlight)
	}

	if c.Jobs.TempDir == "" {
		return fmt.Errorf("jobs.temp_dir cannot be empty")
	}
	if c.Jobs.CleanupInterval <= 0 {
		return fmt.Errorf("invalid jobs.cleanup_interval: %s (must be positive)", c.Jobs.CleanupInterval)
	}
	if c.Jobs.MaxQueueDepth < 0 {
		return fmt.Errorf("invalid jobs.max_queue_depth: %d (must be >= 0)", c.Jobs.MaxQueueDepth)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = c.ModelsDir
	cfg.Detector = c.toDetectorConfig()
	cfg.Recognizer = c.toRecognizerConfig()
	cfg.IndicatorClass = c.Pipeline.Detector.IndicatorClass
	cfg.ConfidenceThreshold = c.Pipeline.Detector.ConfidenceThreshold
	cfg.MaxInFlight = c.Pipeline.MaxInFlight
	cfg.WarmupIterations = c.Pipeline.WarmupIterations
	return cfg
}

// ToJobsConfig converts the config to the job service configuration.
func (c *Config) ToJobsConfig() jobs.Config {
	return jobs.Config{
		TempDir:         c.Jobs.TempDir,
		ResultTTL:       c.Jobs.ResultTTL,
		CleanupInterval: c.Jobs.CleanupInterval,
		MaxQueueDepth:   c.Jobs.MaxQueueDepth,
		ValidateImages:  c.Jobs.ValidateImages,
	}
}

// ToGPUConfig converts the GPU section to the runtime GPU configuration.
func (c *Config) ToGPUConfig() onnx.GPUConfig {
	limit, _ := parseMemoryLimit(c.GPU.MemoryLimit)
	return onnx.GPUConfig{
		UseGPU:      c.GPU.Enabled,
		DeviceID:    c.GPU.Device,
		GPUMemLimit: limit,
	}
}

// toDetectorConfig converts to detector.Config.
func (c *Config) toDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.UpdateModelPath(c.ModelsDir)
	cfg.ConfidenceThreshold = c.Pipeline.Detector.ConfidenceThreshold
	cfg.IoUThreshold = c.Pipeline.Detector.IoUThreshold
	cfg.InputSize = c.Pipeline.Detector.InputSize
	cfg.NumThreads = c.Pipeline.Detector.NumThreads
	cfg.GPU = c.ToGPUConfig()
	if c.Pipeline.Detector.ModelPath != "" {
		cfg.ModelPath = c.Pipeline.Detector.ModelPath
	}
	return cfg
}

// toRecognizerConfig converts to recognizer.Config.
func (c *Config) toRecognizerConfig() recognizer.Config {
	cfg := recognizer.DefaultConfig()
	cfg.UpdateModelPath(c.ModelsDir)
	cfg.ImageHeight = c.Pipeline.Recognizer.ImageHeight
	cfg.ImageWidth = c.Pipeline.Recognizer.ImageWidth
	cfg.BeamWidth = c.Pipeline.Recognizer.BeamWidth
	cfg.NumThreads = c.Pipeline.Recognizer.NumThreads
	cfg.BatchFirst = c.Pipeline.Recognizer.BatchFirst
	cfg.GPU = c.ToGPUConfig()
	if c.Pipeline.Recognizer.ModelPath != "" {
		cfg.ModelPath = c.Pipeline.Recognizer.ModelPath
	}
	if c.Pipeline.Recognizer.DictPath != "" {
		cfg.DictPath = c.Pipeline.Recognizer.DictPath
	}
	return cfg
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit converts "512MB", "1GB" etc. to bytes. "auto" and ""
// mean no limit.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || strings.EqualFold(limit, "auto") {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		factor float64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
