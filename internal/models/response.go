// Package models - API response types and error handling.
// This file defines the outgoing JSON structures shared by the gateway's
// handlers and middleware.
//
// Response Design Principles:
// - One error shape for every failure, including rate limit rejections
// - Machine-readable codes next to human-readable messages
// - RFC3339 timestamps
package models

import (
	"time"
)

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Rate limit errors: the caller's window is exhausted
// - Authorization errors: no usable bearer token
// - Availability errors: the limiter cannot take more keys
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Extra context, e.g. retry_after_ms
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// StatsResponse reports aggregated admission decisions.
type StatsResponse struct {
	Admitted   int64                     `json:"admitted"`
	Rejected   int64                     `json:"rejected"`
	Endpoints  map[string]DecisionCounts `json:"endpoints"`
	Buckets    int                       `json:"buckets"`
	Dropped    int64                     `json:"dropped_events"`
	Failed     int64                     `json:"failed_events"`
	Backend    string                    `json:"backend"`
	ReportedAt time.Time                 `json:"reported_at"`
}

type DecisionCounts struct {
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 405: Method not allowed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429: Window exhausted
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
