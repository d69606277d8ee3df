package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/emeter/internal/config"
	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/MeKo-Tech/emeter/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start an HTTP server that accepts meter photos and reads them in the background.

Endpoints:
  POST /upload/          upload an image (multipart field "file")
  GET  /status/{uuid}    processing, processed or failed
  GET  /result/{uuid}    annotated JPEG
  GET  /values/{uuid}    recognised readings
  GET  /ws/status/{uuid} status updates over WebSocket
  GET  /health, /metrics

Examples:
  emeter serve
  emeter serve --host 0.0.0.0 --port 3000 --result-ttl 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srvCfg := serverConfig(a.cfg)
			ln, err := net.Listen("tcp", srvCfg.Addr())
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srvCfg.Addr(), err)
			}
			return runServe(ctx, a.cfg, a.newProcessor, ln)
		},
	}

	f := cmd.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int("max-upload-size", 20, "maximum upload size in MB")
	f.Int("timeout", 30, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.String("static-dir", "", "directory with index.html served at /")
	f.String("temp-dir", jobs.DefaultTempDir, "directory for uploaded and annotated images")
	f.Duration("result-ttl", jobs.DefaultResultTTL, "how long results are kept (0 keeps them forever)")
	f.Duration("cleanup-interval", jobs.DefaultCleanupInterval, "how often expired results are removed")
	f.Int("max-queue-depth", 0, "maximum queued uploads (0 = unbounded)")
	f.Int("max-in-flight", 0, "maximum concurrent inferences (0 = unbounded)")
	f.Bool("rate-limit-enabled", false, "enable per-client rate limiting of uploads")
	f.Int("requests-per-minute", 60, "maximum uploads per minute per client")
	f.Int("requests-per-hour", 1000, "maximum uploads per hour per client")
	f.Int("max-requests-per-day", 0, "maximum uploads per day per client")
	f.Int64("max-data-per-day-mb", 0, "maximum uploaded MB per day per client")
	addPipelineFlags(f)

	for flag, key := range map[string]string{
		"host":                 "server.host",
		"port":                 "server.port",
		"cors-origin":          "server.cors_origin",
		"max-upload-size":      "server.max_upload_mb",
		"timeout":              "server.timeout_sec",
		"shutdown-timeout":     "server.shutdown_timeout",
		"static-dir":           "server.static_dir",
		"temp-dir":             "jobs.temp_dir",
		"result-ttl":           "jobs.result_ttl",
		"cleanup-interval":     "jobs.cleanup_interval",
		"max-queue-depth":      "jobs.max_queue_depth",
		"max-in-flight":        "pipeline.max_in_flight",
		"rate-limit-enabled":   "server.rate_limit.enabled",
		"requests-per-minute":  "server.rate_limit.requests_per_minute",
		"requests-per-hour":    "server.rate_limit.requests_per_hour",
		"max-requests-per-day": "server.rate_limit.max_requests_per_day",
		"max-data-per-day-mb":  "server.rate_limit.max_data_per_day_mb",
	} {
		bindKey(f, flag, key)
	}
	return cmd
}

// serverConfig converts the server section for the HTTP layer.
func serverConfig(cfg *config.Config) server.Config {
	rl := cfg.Server.RateLimit
	return server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		StaticDir:   cfg.Server.StaticDir,
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     rl.MaxDataPerDayMB << 20,
		},
	}
}

// runServe serves the API on ln until ctx ends, then drains HTTP requests
// and background jobs within the shutdown timeout.
func runServe(ctx context.Context, cfg *config.Config, factory ProcessorFactory, ln net.Listener) error {
	proc, err := factory(cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}

	svc, err := jobs.NewService(cfg.ToJobsConfig(), proc, jobs.WithLogger(slog.Default()))
	if err != nil {
		_ = ln.Close()
		_ = proc.Close()
		return err
	}
	// the worker keeps running while HTTP drains; Shutdown stops it
	if err := svc.Start(context.WithoutCancel(ctx)); err != nil {
		_ = ln.Close()
		_ = proc.Close()
		return err
	}

	srvCfg := serverConfig(cfg)
	api := server.NewServer(srvCfg, svc, slog.Default())
	httpServer := api.HTTPServer(srvCfg)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting emeter server", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serveErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", timeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Job service shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	slog.Info("Graceful shutdown completed")
	return runErr
}
