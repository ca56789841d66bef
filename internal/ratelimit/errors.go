package ratelimit

import "errors"

var (
	// ErrStoreExhausted is returned when the store cannot accept another key.
	// Callers must fail closed.
	ErrStoreExhausted = errors.New("rate limit store exhausted")

	// ErrUnknownEndpoint is returned for endpoints with no configured limit.
	ErrUnknownEndpoint = errors.New("no rate limit configured for endpoint")

	// ErrMissingIdentity is returned when a request carries no credentials.
	ErrMissingIdentity = errors.New("missing caller identity")

	// ErrMalformedIdentity is returned when credentials cannot be parsed into
	// a token.
	ErrMalformedIdentity = errors.New("malformed caller identity")
)
