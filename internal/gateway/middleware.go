package gateway

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/mailops/internal/observability"
)

func (s *Server) basicAuth(next http.Handler) http.Handler {
	user := []byte(s.config.Username)
	pass := []byte(s.config.Password)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, ok := r.BasicAuth()
		// Both comparisons always run.
		userOK := subtle.ConstantTimeCompare([]byte(gotUser), user) == 1
		passOK := subtle.ConstantTimeCompare([]byte(gotPass), pass) == 1
		if !ok || !userOK || !passOK {
			s.logger.WarnContext(r.Context(), "inbound request rejected", "remote_addr", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="mailops"`)
			writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(observability.AddRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	if s.config.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.config.Metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}
