package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultStatusPollInterval is how often the status websocket checks a job.
const DefaultStatusPollInterval = 250 * time.Millisecond

// JobService is the part of the job facade the HTTP API needs.
type JobService interface {
	Upload(ctx context.Context, data []byte) (jobs.UploadResult, error)
	CheckStatus(id string) (jobs.StatusResult, error)
	GetResult(id string) (string, error)
	GetValues(id string) ([]string, error)
	Job(id string) (jobs.Job, error)
	Stats() jobs.Stats
}

// RateLimitConfig holds per-client limits. Zero disables a single limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// Config holds server configuration.
type Config struct {
	Host               string
	Port               int
	CORSOrigin         string
	MaxUploadMB        int64
	TimeoutSec         int
	StaticDir          string
	RateLimit          RateLimitConfig
	StatusPollInterval time.Duration
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	jobs         JobService
	corsOrigin   string
	maxUploadMB  int64
	timeoutSec   int
	staticDir    string
	pollInterval time.Duration
	rateLimiter  *RateLimiter
	logger       *slog.Logger
	started      time.Time
}

// NewServer creates a server answering requests from svc.
func NewServer(cfg Config, svc JobService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = DefaultStatusPollInterval
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	s := &Server{
		jobs:         svc,
		corsOrigin:   cfg.CORSOrigin,
		maxUploadMB:  cfg.MaxUploadMB,
		timeoutSec:   cfg.TimeoutSec,
		staticDir:    cfg.StaticDir,
		pollInterval: cfg.StatusPollInterval,
		logger:       logger,
		started:      time.Now(),
	}
	if rl := cfg.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s
}

// Addr joins host and port for http.Server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Router configures the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware, s.metricsMiddleware)

	upload := s.rateLimitMiddleware(s.uploadHandler)
	r.HandleFunc("/upload/", upload).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/upload", upload).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/status/{uuid}", s.statusHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/result/{uuid}", s.resultHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/values/{uuid}", s.valuesHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/jobs/{uuid}", s.jobHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ws/status/{uuid}", s.statusWebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.staticDir != "" {
		r.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	}
	return r
}

// HTTPServer wraps the router in an http.Server with the configured timeouts.
// The websocket upgrade clears the deadlines on hijacked connections.
func (s *Server) HTTPServer(cfg Config) *http.Server {
	timeout := time.Duration(s.timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}
}
