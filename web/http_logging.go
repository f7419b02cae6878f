// ABOUTME: HTTP request logging middleware in the same key=value log.Printf style as the controller.
// ABOUTME: Health checks are logged only when they fail; event streams log when they open and close.
package web

import (
	"log"
	"net/http"
	"strings"
	"time"
)

// recorder captures the response status and size for the access log.
type recorder struct {
	http.ResponseWriter
	code int
	n    int
}

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.n += n
	return n, err
}

// Flush lets the event stream push through the recorder.
func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream := strings.HasSuffix(r.URL.Path, "/events")
		if stream {
			log.Printf("component=web action=stream_open path=%s remote=%s", r.URL.Path, r.RemoteAddr)
		}

		start := time.Now()
		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start).Round(time.Microsecond)

		switch {
		case stream:
			log.Printf("component=web action=stream_closed path=%s bytes=%d duration=%s", r.URL.Path, rec.n, elapsed)
		case r.URL.Path == "/health" && rec.status() == http.StatusOK:
		default:
			log.Printf("component=web action=request method=%s path=%s status=%d bytes=%d duration=%s",
				r.Method, r.URL.Path, rec.status(), rec.n, elapsed)
		}
	})
}
