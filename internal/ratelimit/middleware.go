package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"tokengate/internal/clock"
	"tokengate/internal/models"
)

// Observer is notified after every decision made by the middleware. It runs
// outside any bucket lock and must not block.
type Observer interface {
	ObserveDecision(ctx context.Context, key Key, d Decision)
}

// Options configures Middleware. Zero values select the defaults noted on
// each field.
type Options struct {
	Clock           clock.Clock     // clock.System
	Identity        IdentityFunc    // BearerToken
	Endpoint        EndpointFunc    // MuxEndpoint
	AnonymousPolicy AnonymousPolicy // PolicyAnonymous
	Headers         bool            // emit X-RateLimit-* on every limited response
	Observers       []Observer
	Logger          *slog.Logger // slog.Default()
}

// Middleware returns HTTP middleware that admits or rejects requests to the
// endpoints covered by limiter. Admitted requests reach next untouched;
// rejected ones get a 429 JSON error and next is not called.
func Middleware(limiter *Limiter, opts Options) func(http.Handler) http.Handler {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Identity == nil {
		opts.Identity = BearerToken
	}
	if opts.Endpoint == nil {
		opts.Endpoint = MuxEndpoint
	}
	if opts.AnonymousPolicy == "" {
		opts.AnonymousPolicy = PolicyAnonymous
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rejectLog := &rate.Sometimes{Interval: time.Second}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := opts.Endpoint(r)
			if !limiter.Covers(endpoint) {
				next.ServeHTTP(w, r)
				return
			}

			token, err := opts.Identity(r)
			if err == nil && token == "" {
				err = ErrMissingIdentity
			}
			if err != nil {
				if opts.AnonymousPolicy == PolicyReject {
					writeError(w, r, http.StatusUnauthorized,
						models.NewErrorResponse("Valid bearer token required", models.ErrorCodeUnauthorized))
					return
				}
				token = AnonymousToken
			}

			key := Key{Token: token, Endpoint: endpoint}
			decision, err := limiter.TryAcquire(key, opts.Clock.Now())
			if err != nil {
				opts.Logger.Error("Rate limiter failed, rejecting request",
					"endpoint", endpoint,
					"error", err,
				)
				status, code := http.StatusInternalServerError, models.ErrorCodeInternalError
				if errors.Is(err, ErrStoreExhausted) {
					status, code = http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable
				}
				writeError(w, r, status, models.NewErrorResponse("Rate limiter unavailable", code))
				return
			}

			for _, o := range opts.Observers {
				o.ObserveDecision(r.Context(), key, decision)
			}

			if opts.Headers {
				setLimitHeaders(w, decision)
			}

			if !decision.Admitted() {
				retryAfter := retryAfterSeconds(decision.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
				errorResp.Details = map[string]string{
					"endpoint":       endpoint,
					"retry_after_ms": strconv.FormatInt(decision.RetryAfter.Milliseconds(), 10),
				}
				writeError(w, r, http.StatusTooManyRequests, errorResp)

				rejectLog.Do(func() {
					opts.Logger.Debug("Rate limit exceeded",
						"endpoint", endpoint,
						"limit", decision.Limit,
						"retry_after", retryAfter,
					)
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errorResp *models.ErrorResponse) {
	errorResp.RequestID = r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResp)
}
