// ABOUTME: Tests for the request logging middleware's quiet health checks and status capture.
// ABOUTME: Redirects the standard logger into a buffer for the duration of each test.
package web

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestRequestLoggerSkipsHealthyChecks(t *testing.T) {
	buf := captureLog(t)
	h := requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if buf.Len() != 0 {
		t.Errorf("healthy check should not be logged, got %q", buf.String())
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	buf := captureLog(t)
	h := requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/trials/99", nil))
	out := buf.String()
	if !strings.Contains(out, "status=404") || !strings.Contains(out, "path=/api/trials/99") {
		t.Errorf("log line missing fields: %q", out)
	}
}

func TestRecorderFlushes(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &recorder{ResponseWriter: rr}
	_, _ = rec.Write([]byte("data: x\n\n"))
	rec.Flush()
	if !rr.Flushed {
		t.Error("underlying writer was not flushed")
	}
	if rec.status() != http.StatusOK || rec.n != 9 {
		t.Errorf("got status %d bytes %d, want 200 and 9", rec.status(), rec.n)
	}
}
