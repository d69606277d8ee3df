package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/emeter/internal/benchmark"
	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/spf13/cobra"
)

func newBenchCommand(a *app) *cobra.Command {
	opts := benchmark.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "bench <image>...",
		Short: "Measure reading latency and throughput",
		Long: `Run the reading pipeline repeatedly on each image and report latency
percentiles, per-stage timings and throughput.

Examples:
  emeter bench meter.jpg
  emeter bench meter.jpg -n 50 --concurrency 4
  emeter bench meter.jpg --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := a.newProcessor(a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = proc.Close() }()

			results := make([]benchmark.Result, 0, len(args))
			for _, path := range args {
				img, err := utils.LoadImage(path)
				if err != nil {
					return err
				}
				res, err := benchmark.Run(cmd.Context(), filepath.Base(path), proc, img, opts)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results = append(results, res)
			}

			w := cmd.OutOrStdout()
			switch a.cfg.Output.Format {
			case formatJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			case formatText, "":
				return benchmark.Report(w, results)
			default:
				return fmt.Errorf("unsupported output format: %s", a.cfg.Output.Format)
			}
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.Iterations, "iterations", "n", opts.Iterations, "timed readings per image")
	f.IntVar(&opts.Warmup, "warmup", opts.Warmup, "untimed readings before measuring")
	f.IntVarP(&opts.Concurrency, "concurrency", "c", opts.Concurrency, "readings in flight at once")
	f.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout per reading (0 disables)")
	f.StringP("format", "f", formatText, "output format: text or json")
	bindKey(f, "format", "output.format")
	addPipelineFlags(f)
	return cmd
}
