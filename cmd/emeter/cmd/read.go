package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/emeter/internal/batch"
	"github.com/MeKo-Tech/emeter/internal/pipeline"
	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// readOutput is the JSON shape printed by the read command.
type readOutput struct {
	File     string             `json:"file"`
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	Values   []string           `json:"values"`
	Readings []pipeline.Reading `json:"readings"`
	Timing   pipeline.Timing    `json:"timing"`
	Overlay  string             `json:"overlay,omitempty"`
}

func newReadCommand(a *app) *cobra.Command {
	var (
		overlayPath string
		workers     int
		discover    batch.DiscoverOptions
	)
	cmd := &cobra.Command{
		Use:   "read <image|dir>...",
		Short: "Read meter values from image files",
		Long: `Run the reading pipeline synchronously on images or directories of images
and print the values.

Examples:
  emeter read meter.jpg
  emeter read meter.jpg --format json
  emeter read meter.jpg --overlay annotated.jpg
  emeter read photos/ --recursive --workers 4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := batch.Discover(args, discover)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no images found in %s", strings.Join(args, ", "))
			}
			if overlayPath != "" && len(paths) > 1 {
				return fmt.Errorf("--overlay takes a single input image, got %d", len(paths))
			}
			proc, err := a.newProcessor(a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = proc.Close() }()

			items, err := batch.Process(cmd.Context(), proc, paths, workers)
			if err != nil {
				return err
			}
			if err := batch.FirstError(items); err != nil {
				return err
			}
			outputs := make([]readOutput, 0, len(items))
			for _, it := range items {
				out, err := toReadOutput(it, overlayPath)
				if err != nil {
					return err
				}
				outputs = append(outputs, out)
			}
			return writeReadOutput(cmd.OutOrStdout(), a.cfg.Output.Format, outputs)
		},
	}

	f := cmd.Flags()
	f.StringVar(&overlayPath, "overlay", "", "write the annotated image to this JPEG file")
	f.IntVarP(&workers, "workers", "w", 1, "images read concurrently")
	f.BoolVarP(&discover.Recursive, "recursive", "r", false, "descend into subdirectories")
	f.StringSliceVar(&discover.Include, "include", nil, "file globs to read from directories (default jpg, jpeg, png, bmp)")
	f.StringSliceVar(&discover.Exclude, "exclude", nil, "file globs to skip")
	f.StringP("format", "f", formatText, "output format: text or json")
	bindKey(f, "format", "output.format")
	addPipelineFlags(f)
	return cmd
}

func toReadOutput(it batch.Item, overlayPath string) (readOutput, error) {
	res := it.Result
	out := readOutput{
		File:     it.Path,
		Width:    res.Width,
		Height:   res.Height,
		Values:   res.Values,
		Readings: res.Readings,
		Timing:   res.Timing,
	}
	if overlayPath != "" {
		ov := res.Overlay
		if ov == nil {
			ov = utils.ToRGBA(it.Image)
		}
		if err := utils.SaveJPEG(ov, overlayPath); err != nil {
			return readOutput{}, fmt.Errorf("failed to write overlay: %w", err)
		}
		out.Overlay = overlayPath
	}
	return out, nil
}

func writeReadOutput(w io.Writer, format string, outputs []readOutput) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(outputs) == 1 {
			return enc.Encode(outputs[0])
		}
		return enc.Encode(outputs)
	case formatText, "":
		for _, out := range outputs {
			values := "(no reading)"
			if len(out.Values) > 0 {
				values = strings.Join(out.Values, ", ")
			}
			if len(outputs) > 1 {
				_, _ = fmt.Fprintf(w, "%s: %s\n", out.File, values)
			} else {
				_, _ = fmt.Fprintln(w, values)
			}
			if out.Overlay != "" {
				_, _ = fmt.Fprintf(w, "overlay written to %s\n", out.Overlay)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// addPipelineFlags registers the model and tuning flags shared by serve and read.
func addPipelineFlags(f *pflag.FlagSet) {
	f.String("det-model", "", "override detection model path")
	f.String("rec-model", "", "override recognition model path")
	f.String("vocab", "", "recognizer vocabulary file (one token per line)")
	f.Float64("confidence", 0.59, "minimum indicator detection confidence (0..1)")
	f.Int("indicator-class", 0, "detector class index of the indicator panel")
	f.Int("beam-width", 200, "CTC beam width")
	f.Int("threads", 0, "ONNX Runtime intra-op threads (0 = default)")
	f.Bool("gpu", false, "use CUDA execution provider")
	f.Int("gpu-device", 0, "CUDA device id")
	f.String("gpu-mem-limit", "auto", "GPU memory limit (e.g. 1GB, auto)")

	for flag, key := range map[string]string{
		"det-model":       "pipeline.detector.model_path",
		"rec-model":       "pipeline.recognizer.model_path",
		"vocab":           "pipeline.recognizer.dict_path",
		"confidence":      "pipeline.detector.confidence_threshold",
		"indicator-class": "pipeline.detector.indicator_class",
		"beam-width":      "pipeline.recognizer.beam_width",
		"threads":         "pipeline.detector.num_threads",
		"gpu":             "gpu.enabled",
		"gpu-device":      "gpu.device",
		"gpu-mem-limit":   "gpu.memory_limit",
	} {
		bindKey(f, flag, key)
	}
}
