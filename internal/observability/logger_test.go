package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Run("filters below minimum level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger("test", LevelWarn)
		l.SetOutput(&buf)

		l.Info("hidden")
		l.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "[WARN] test")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("fields are sorted and inherited", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger("test", LevelDebug)
		l.SetOutput(&buf)

		l.WithField("photo_id", "p1").WithFields(map[string]interface{}{"category_id": "c1"}).Info("moved")

		line := buf.String()
		assert.Less(t, strings.Index(line, "category_id=c1"), strings.Index(line, "photo_id=p1"))
	})

	t.Run("with field does not mutate parent", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger("test", LevelDebug)
		l.SetOutput(&buf)

		_ = l.WithField("k", "v")
		l.Info("plain")

		assert.NotContains(t, buf.String(), "k=v")
	})

	t.Run("json lines keep the fixed keys", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger("gallery", LevelInfo)
		l.SetOutput(&buf)
		l.SetFormat("JSON")

		l.WithFields(map[string]interface{}{
			"category_id": "c1",
			"msg":         "shadowed",
			"error":       errors.New("boom"),
		}).Warn("move failed")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "gallery", entry["service"])
		assert.Equal(t, "move failed", entry["msg"])
		assert.Equal(t, "c1", entry["category_id"])
		assert.Equal(t, "boom", entry["error"])
		assert.Contains(t, entry["caller"], "logger_test.go:")
	})

	t.Run("context adds the request id", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger("test", LevelInfo)
		l.SetOutput(&buf)

		ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "req-42")
		l.WithContext(ctx).Info("handled")
		assert.Contains(t, buf.String(), "request_id=req-42")
		assert.Same(t, l, l.WithContext(context.Background()))
	})

	t.Run("parse level", func(t *testing.T) {
		assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
		assert.Equal(t, LevelWarn, ParseLevel("warning"))
		assert.Equal(t, LevelError, ParseLevel("error"))
		assert.Equal(t, LevelInfo, ParseLevel(""))
	})
}

func TestMiddlewareRoutePattern(t *testing.T) {
	metrics, err := NewHTTPMetrics()
	require.NoError(t, err)

	var route string
	r := chi.NewRouter()
	r.Use(TracingMiddleware("test"))
	r.Use(MetricsMiddleware(metrics))
	r.Get("/api/categories/{id}", func(w http.ResponseWriter, req *http.Request) {
		route = routePattern(req)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/categories/abc", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "/api/categories/{id}", route)
}

func TestRoutePatternFallsBackToPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/plain", nil)
	assert.Equal(t, "/plain", routePattern(req))
}

func TestGalleryAttributes(t *testing.T) {
	var attrs []attribute.KeyValue
	h := chi.NewRouter()
	h.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			attrs = galleryAttributes(req)
		})
	})
	h.Put("/api/categories/{id}/photos/{photoId}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	h.Get("/api/photos/{id}", func(w http.ResponseWriter, req *http.Request) {})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/categories/c1/photos/p1", nil))
	assert.ElementsMatch(t, []attribute.KeyValue{CategoryID("c1"), PhotoID("p1")}, attrs)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/photos/p2", nil))
	assert.Equal(t, []attribute.KeyValue{PhotoID("p2")}, attrs)

	assert.Equal(t, "4xx", statusClass(http.StatusConflict))
	assert.Equal(t, "2xx", statusClass(http.StatusOK))
}
