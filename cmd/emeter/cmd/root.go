package cmd

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/emeter/internal/config"
	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/MeKo-Tech/emeter/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// viperKeyAnnotation links a flag to the configuration key it overrides.
const viperKeyAnnotation = "emeter_config_key"

// ProcessorFactory builds the inference backend from the resolved configuration.
type ProcessorFactory func(cfg *config.Config) (Processor, error)

// Processor is what the commands need from the inference pipeline.
type Processor interface {
	Process(ctx context.Context, img image.Image) (*pipeline.Result, error)
	Close() error
}

// app holds state shared by one command tree.
type app struct {
	v            *viper.Viper
	loader       *config.Loader
	cfg          *config.Config
	cfgFile      string
	newProcessor ProcessorFactory
}

// NewRootCommand builds the emeter command tree around its own viper
// instance. A nil factory builds the ONNX pipeline.
func NewRootCommand(factory ProcessorFactory) *cobra.Command {
	if factory == nil {
		factory = buildPipeline
	}
	v := viper.New()
	a := &app{v: v, loader: config.NewLoaderWithViper(v), newProcessor: factory}

	root := &cobra.Command{
		Use:   "emeter",
		Short: "Electricity meter reading service",
		Long: `emeter reads the display of electricity meters from photos.

It detects the indicator panel with a YOLO model, recognises the digits with a
CRNN model and decodes them with CTC beam search. Uploads are processed in the
background and results are kept for a limited time.

Examples:
  emeter serve --port 8080
  emeter read meter.jpg --overlay annotated.jpg
  emeter config show`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is search in ., $HOME, $HOME/.config/emeter, /etc/emeter)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("models-dir", "", "directory containing ONNX models (env EMETER_MODELS_DIR)")
	bindKey(pf, "verbose", "verbose")
	bindKey(pf, "log-level", "log_level")
	bindKey(pf, "models-dir", "models_dir")

	root.AddCommand(newServeCommand(a), newReadCommand(a), newBenchCommand(a), newConfigCommand(a), newVersionCommand())
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	root := NewRootCommand(nil)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bindKey records which configuration key a flag overrides.
func bindKey(fs *pflag.FlagSet, flagName, key string) {
	_ = fs.SetAnnotation(flagName, viperKeyAnnotation, []string{key})
}

// initConfig binds the flags of the running command, loads the configuration
// and installs the JSON logger.
func (a *app) initConfig(cmd *cobra.Command) error {
	var bindErr error
	bind := func(f *pflag.Flag) {
		if keys, ok := f.Annotations[viperKeyAnnotation]; ok && len(keys) == 1 {
			if err := a.v.BindPFlag(keys[0], f); err != nil && bindErr == nil {
				bindErr = err
			}
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return bindErr
	}

	cfg, err := a.loader.LoadWithFile(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
	slog.Debug("Configuration loaded", "file", a.loader.GetConfigFileUsed())
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// buildPipeline loads the ONNX models named by cfg.
func buildPipeline(cfg *config.Config) (Processor, error) {
	p, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return p, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			v, commit, date := version.Info()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "emeter version %s\nCommit: %s\nBuilt: %s\n", v, commit, date)
		},
	}
}
