package index

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope/envelopetest"
)

const device = "/generic/modhost/1.0.0/"

func init() {
	gin.SetMode(gin.TestMode)
}

func publish(t *testing.T, dir, name, version string) []byte {
	t.Helper()
	data := envelopetest.Package(t, map[string]string{
		"package.json": envelopetest.Manifest(version),
		"index.js":     "exports.name = '" + name + "';",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".crx"), data, 0644))
	return data
}

func newRouter(t *testing.T, dir string) *gin.Engine {
	t.Helper()
	r := gin.New()
	NewHandlers(NewStore(dir, ".crx", nil), device, nil).Register(r)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestGetModule(t *testing.T) {
	dir := t.TempDir()
	data := publish(t, dir, "add", "1.0.0")
	r := newRouter(t, dir)

	w := get(r, "/getModule/generic/modhost/1.0.0/add.crx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, ContentType, w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("Content-Length"))
}

func TestGetModuleNotFound(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "add", "1.0.0")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.crx"), []byte("junk"), 0644))
	r := newRouter(t, dir)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown package", "/getModule/generic/modhost/1.0.0/sub.crx", http.StatusNotFound},
		{"wrong device", "/getModule/other/device/add.crx", http.StatusNotFound},
		{"wrong extension", "/getModule/generic/modhost/1.0.0/add.zip", http.StatusNotFound},
		{"nested path", "/getModule/generic/modhost/1.0.0/x/add.crx", http.StatusNotFound},
		{"traversal", "/getModule/generic/modhost/1.0.0/..crx", http.StatusNotFound},
		{"corrupt envelope", "/getModule/generic/modhost/1.0.0/junk.crx", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, get(r, tt.path).Code)
		})
	}
}

func TestGetVersions(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "add", "1.2.3")
	publish(t, dir, "mul", "0.1.0")
	r := newRouter(t, dir)

	w := get(r, "/getVersions/generic/modhost/1.0.0/mul/missing/add")
	require.Equal(t, http.StatusOK, w.Code)

	var resp versionList
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.VersionList, 3)
	require.NotNil(t, resp.VersionList[0])
	assert.Equal(t, "0.1.0", *resp.VersionList[0])
	assert.Nil(t, resp.VersionList[1])
	require.NotNil(t, resp.VersionList[2])
	assert.Equal(t, "1.2.3", *resp.VersionList[2])
	assert.Contains(t, w.Body.String(), "null")
}

func TestGetVersionsEmpty(t *testing.T) {
	r := newRouter(t, t.TempDir())

	w := get(r, "/getVersions/generic/modhost/1.0.0/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"versionList": []}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(r, "/getVersions/elsewhere/add").Code)
}

func TestStoreCacheFollowsFile(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "add", "1.0.0")
	store := NewStore(dir, ".crx", nil)

	v, ok := store.Version("add")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", v)

	publish(t, dir, "add", "2.0.0")
	// Some filesystems have coarse timestamps; the size check alone is not
	// enough when the versions have equal length.
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "add.crx"), later, later))

	v, ok = store.Version("add")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", v)
}

func TestStoreLookup(t *testing.T) {
	dir := t.TempDir()
	data := publish(t, dir, "add", "1.0.0")
	store := NewStore(dir, ".crx", nil)

	entry, err := store.Lookup("add")
	require.NoError(t, err)
	env, err := envelope.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Entry{Name: "add", Version: "1.0.0", Digest: env.Digest(), Size: int64(len(data))}, entry)

	_, err = store.Lookup("../add")
	assert.Error(t, err)
}

func TestListAndHealth(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, "mul", "0.1.0")
	publish(t, dir, "add", "1.0.0")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.crx"), []byte("junk"), 0644))
	r := newRouter(t, dir)

	w := get(r, "/packages")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Packages []Entry `json:"packages"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Packages, 2)
	assert.Equal(t, "add", list.Packages[0].Name)
	assert.Equal(t, "mul", list.Packages[1].Name)

	w = get(r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","packages":2,"device":"/generic/modhost/1.0.0"}`, w.Body.String())
}

func TestHealthMissingDir(t *testing.T) {
	r := newRouter(t, filepath.Join(t.TempDir(), "gone"))
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/health").Code)
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, get(r, "/").Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/").Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(CORSConfig{AllowOrigins: []string{"https://app.example"}}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
