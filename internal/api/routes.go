package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router. Endpoints the
// limiter does not cover pass through untouched.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the gateway
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	// requestIDMiddleware must stay outermost; error bodies read the id.
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/vault", handlers.Demo).Methods(http.MethodPost, http.MethodGet)
	router.HandleFunc("/vault/{id}", handlers.Demo).Methods(http.MethodPut)
	router.HandleFunc("/testing", handlers.Demo).Methods(http.MethodGet)

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/version", handlers.Version).Methods(http.MethodGet)
	api.HandleFunc("/stats", handlers.Stats).Methods(http.MethodGet)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return router
}
