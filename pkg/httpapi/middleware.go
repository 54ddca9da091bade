package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/platform/logging"
)

// requestLogger emits one structured log line per request with the
// shared HTTP field shape.
func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.WithFields(logging.HTTPFields(r.Method, r.URL.Path, ww.Status()).
				Duration(time.Since(start)).
				RequestID(middleware.GetReqID(r.Context())).
				ToLogrus()).Info("request")
		})
	}
}

// APIKeyAuth rejects requests whose X-API-Key header does not match
// apiKey, comparing in constant time. Applied to every write endpoint
// of the approval surface.
func APIKeyAuth(apiKey string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				logger.WithFields(logging.SecurityFields("api_key_auth", r.URL.Path).ToLogrus()).Warn("unauthorized request")
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
