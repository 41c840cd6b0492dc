package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"mediaconvert/logger"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)

		logger.Debugf("[http] req_id=%s method=%s path=%s status=%d bytes=%d duration_ms=%d",
			middleware.GetReqID(r.Context()), r.Method, r.URL.Path, sw.status, sw.bytes,
			time.Since(start).Milliseconds())
	})
}
