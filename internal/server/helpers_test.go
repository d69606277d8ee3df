package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/MeKo-Tech/emeter/internal/testutil"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc  *jobs.Service
	proc *testutil.FakeProcessor
	srv  *Server
	http *httptest.Server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, proc *testutil.FakeProcessor, mutate func(*Config)) *testEnv {
	t.Helper()
	if proc == nil {
		proc = &testutil.FakeProcessor{Values: []string{"12.34"}}
	}
	jc := jobs.DefaultConfig()
	jc.TempDir = filepath.Join(t.TempDir(), "temp")
	jc.ResultTTL = 0
	svc, err := jobs.NewService(jc, proc, jobs.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	cfg := Config{MaxUploadMB: 5, CORSOrigin: "*", StatusPollInterval: 10 * time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg, svc, discardLogger())
	ts := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &testEnv{svc: svc, proc: proc, srv: srv, http: ts}
}

// multipartBody builds a form with data under field.
func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "meter.jpg")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, data []byte) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, "file", data)
	resp, err := http.Post(e.http.URL+"/upload/", ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) waitForStatus(t *testing.T, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := e.svc.CheckStatus(id)
		return err == nil && st.Status == want
	}, 3*time.Second, 5*time.Millisecond)
}
