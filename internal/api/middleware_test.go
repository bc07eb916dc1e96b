package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestCorsMiddleware_SetsHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/archives", nil)
	rec := httptest.NewRecorder()

	corsMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCorsMiddleware_PreflightShortCircuits(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for OPTIONS")
	})

	req := httptest.NewRequest("OPTIONS", "/runs", nil)
	rec := httptest.NewRecorder()

	corsMiddleware(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestLoggingMiddleware_RecordsMethodPathStatus(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/runs/missing", nil)
	rec := httptest.NewRecorder()

	loggingMiddleware(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	logOutput := buf.String()
	assert.Contains(t, logOutput, "GET")
	assert.Contains(t, logOutput, "/runs/missing")
	assert.Contains(t, logOutput, "404")
}

func TestJsonContentTypeMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/summary", nil)
	rec := httptest.NewRecorder()

	jsonContentTypeMiddleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestResponseWriter_TracksStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, rw.statusCode)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
