package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tokengate/internal/models"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns an X-Request-ID to requests that arrive
// without one and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" || r.URL.Path == "/api/v1/health" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", r.Header.Get(requestIDHeader))
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeErrorJSON(w, r, http.StatusInternalServerError,
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, r, http.StatusMethodNotAllowed,
		models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest))
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, r, http.StatusNotFound,
		models.NewErrorResponse("Resource not found", models.ErrorCodeNotFound))
}

func writeErrorJSON(w http.ResponseWriter, r *http.Request, status int, errorResp *models.ErrorResponse) {
	errorResp.RequestID = r.Header.Get(requestIDHeader)
	writeJSON(w, status, errorResp)
}
