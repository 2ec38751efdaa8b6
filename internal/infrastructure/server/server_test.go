package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope/envelopetest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, tweak func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Dir = t.TempDir()
	if tweak != nil {
		tweak(cfg)
	}
	srv, err := NewServer(cfg, logging.NewNop())
	require.NoError(t, err)
	return srv
}

func TestNewServerRequiresDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Dir = filepath.Join(t.TempDir(), "missing")
	_, err := NewServer(cfg, logging.NewNop())
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	cfg.Index.Dir = file
	_, err = NewServer(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestServesPackagesAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	data := envelopetest.Package(t, map[string]string{
		"package.json": envelopetest.Manifest("1.0.0"),
		"index.js":     "",
	})
	require.NoError(t, os.WriteFile(filepath.Join(srv.Store().Dir(), "add.crx"), data, 0644))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/getModule/generic/modhost/1.0.0/add.crx")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `modhost_index_requests_total{method="GET",route="/getModule/*path",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRateLimitEnabled(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Index.RateLimit = 1
		cfg.Index.Burst = 1
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
