package ratelimit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// IdentityFunc extracts the caller token from a request. An empty token with
// a nil error is treated as a missing identity.
type IdentityFunc func(r *http.Request) (string, error)

// EndpointFunc derives the endpoint identifier of a request.
type EndpointFunc func(r *http.Request) string

// AnonymousPolicy decides what happens to requests without a usable token.
type AnonymousPolicy string

const (
	// PolicyAnonymous counts such requests against one shared bucket per
	// endpoint.
	PolicyAnonymous AnonymousPolicy = "anonymous"

	// PolicyReject answers such requests with 401 before any bucket is
	// touched.
	PolicyReject AnonymousPolicy = "reject"
)

// ParseAnonymousPolicy converts a configuration value to a policy.
func ParseAnonymousPolicy(s string) (AnonymousPolicy, error) {
	switch AnonymousPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyAnonymous:
		return PolicyAnonymous, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unsupported anonymous policy: %q", s)
	}
}

// BearerToken reads the token from an "Authorization: Bearer <token>" header.
// The scheme is matched case-insensitively; the token itself is returned as
// sent.
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingIdentity
	}

	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", ErrMalformedIdentity
	}

	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", ErrMalformedIdentity
	}
	return token, nil
}

// MuxEndpoint identifies a request by its method and the path template of
// the matched gorilla/mux route, e.g. "PUT /vault/{id}". Requests without a
// matched route fall back to the literal path.
func MuxEndpoint(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return r.Method + " " + tmpl
		}
	}
	return r.Method + " " + r.URL.Path
}
