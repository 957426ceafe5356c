package metrics

import "net/http"

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming responses.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware records every request into the store and the Prometheus
// families. The metrics path itself is skipped so scrapes don't count
// themselves.
func Middleware(store *Store, metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metricsPath != "" && r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}

			handle := store.BeginRequest(r.Method, r.URL.Path)
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			store.EndRequest(handle, recorder.statusCode, "")
		})
	}
}
