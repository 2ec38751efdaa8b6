package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))

	ctx, id := Ensure(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, TraceID(ctx))

	same, again := Ensure(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, ctx, same)
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMiddleware(nil))
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = TraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTraceID, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get(HeaderTraceID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
	assert.Equal(t, seen, w.Header().Get(HeaderTraceID))
}

func TestInjectRequest(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(HeaderTraceID)
	}))
	defer ts.Close()

	client := resty.New()
	client.OnBeforeRequest(InjectRequest)

	_, err := client.R().SetContext(WithTraceID(context.Background(), "xyz")).Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "xyz", got)

	_, err = client.R().Get(ts.URL)
	require.NoError(t, err)
	assert.Empty(t, got)
}
