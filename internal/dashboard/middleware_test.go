package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConcurrencyLimitShedsLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocked := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	wrapped := concurrencyLimit(1)(blocked)

	go func() {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	}()
	<-started
	defer close(release)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestLoggerTagsAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := NewHandler(t.TempDir(), nil, "KRW", false, zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Router(0).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	entries := logs.FilterMessage("Request handled").All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "/health", entries[0].ContextMap()["path"])
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}

func TestReloadModeDisablesCaching(t *testing.T) {
	handler := NewHandler(t.TempDir(), nil, "KRW", true, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Router(0).ServeHTTP(rec, req)

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
