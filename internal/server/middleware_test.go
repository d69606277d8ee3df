package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/MeKo-Tech/emeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, nil, func(c *Config) { c.CORSOrigin = "https://meters.example" })

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/upload/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://meters.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, 0, env.svc.Stats().Queued)
}

func TestCORS_HeadersOnNormalRequests(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp := env.get(t, "/health")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, nil, func(c *Config) {
		c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerMinute: 1}
	})

	first := env.upload(t, testutil.MeterJPEG(t))
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := env.upload(t, testutil.MeterJPEG(t))
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "minute", second.Header.Get("X-RateLimit-Type"))
	assert.Equal(t, "1", second.Header.Get("X-RateLimit-Limit"))
	retry, err := strconv.Atoi(second.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retry)
	assert.Equal(t, "Rate limit exceeded.", decodeJSON[ErrorResponse](t, second).Detail)

	// queries are not limited
	up := decodeJSON[jobs.UploadResult](t, first)
	assert.Equal(t, http.StatusOK, env.get(t, "/status/"+up.ID).StatusCode)
}

func TestRateLimitMiddleware_Quota(t *testing.T) {
	s := NewServer(Config{}, nil, discardLogger())
	s.rateLimiter = NewRateLimiter(0, 0, 0, 10)
	called := 0
	h := s.rateLimitMiddleware(func(http.ResponseWriter, *http.Request) { called++ })

	req := httptest.NewRequest(http.MethodPost, "/upload/", nil)
	req.ContentLength = 100
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, 0, called)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "data", w.Header().Get("X-Quota-Type"))
	assert.Equal(t, "10", w.Header().Get("X-Quota-Limit"))
	assert.NotEmpty(t, w.Header().Get("X-Quota-Resets"))
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	s := NewServer(Config{}, nil, discardLogger())
	called := 0
	h := s.rateLimitMiddleware(func(http.ResponseWriter, *http.Request) { called++ })
	for range 5 {
		h(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/upload/", nil))
	}
	assert.Equal(t, 5, called)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"single forwarded", map[string]string{"X-Forwarded-For": " 198.51.100.2 "}, "10.0.0.2:1234", "198.51.100.2"},
		{"real ip", map[string]string{"X-Real-IP": "192.0.2.9"}, "10.0.0.2:1234", "192.0.2.9"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
