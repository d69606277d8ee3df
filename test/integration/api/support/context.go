// Package support holds the step definitions of the API acceptance suite.
package support

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/MeKo-Tech/emeter/internal/server"
	"github.com/MeKo-Tech/emeter/internal/testutil"
)

// clock is a settable time source shared by the registry and the janitor.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string
	Clock   *clock
	Proc    *testutil.FakeProcessor
	Service *jobs.Service
	Server  *httptest.Server

	gate chan struct{}

	LastJobID       string
	LastStatusCode  int
	LastBody        []byte
	LastContentType string
}

// NewTestContext creates an empty scenario context.
func NewTestContext() *TestContext {
	return &TestContext{
		Clock: &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		Proc:  &testutil.FakeProcessor{},
	}
}

func (tc *TestContext) start() error {
	dir, err := os.MkdirTemp("", "emeter-api-*")
	if err != nil {
		return err
	}
	tc.TempDir = dir

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := jobs.DefaultConfig()
	cfg.TempDir = dir
	// sweeps are driven by the scenario
	cfg.CleanupInterval = time.Hour
	svc, err := jobs.NewService(cfg, tc.Proc, jobs.WithClock(tc.Clock.Now), jobs.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := svc.Start(context.Background()); err != nil {
		return err
	}
	tc.Service = svc

	srv := server.NewServer(server.Config{MaxUploadMB: 5}, svc, logger)
	tc.Server = httptest.NewServer(srv.Router())
	return nil
}

// Cleanup stops the server and the service and removes the temp dir.
func (tc *TestContext) Cleanup() {
	if tc.gate != nil {
		close(tc.gate)
		tc.gate = nil
	}
	if tc.Server != nil {
		tc.Server.Close()
	}
	if tc.Service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tc.Service.Shutdown(ctx)
	}
	if tc.TempDir != "" {
		_ = os.RemoveAll(tc.TempDir)
	}
}

func (tc *TestContext) record(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.LastStatusCode = resp.StatusCode
	tc.LastBody = body
	tc.LastContentType = resp.Header.Get("Content-Type")
	return nil
}
