package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAdmitted = "admitted"
	fieldRejected = "rejected"
)

// RedisRecorder keeps counters in Redis hashes:
//
//	<prefix>:total             admitted|rejected
//	<prefix>:minute:<yyyymmddhhmm>  admitted|rejected, expires after ttl
//	<prefix>:endpoint          "<endpoint>:admitted"|"<endpoint>:rejected"
//
// Each event is one pipelined round trip.
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

type RedisOption func(*RedisRecorder)

func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) {
		if p := strings.Trim(prefix, ":"); p != "" {
			r.prefix = p
		}
	}
}

// WithRedisTTL sets the expiry of per-minute hashes. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = ttl }
}

// NewRedisRecorder wraps an existing client. The caller keeps ownership of
// rdb; Close does not close it.
func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "tokengate:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedisRecorder connects to addr and verifies the connection with PING.
func DialRedisRecorder(ctx context.Context, options *redis.Options, opts ...RedisOption) (*RedisRecorder, error) {
	rdb := redis.NewClient(options)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", options.Addr, err)
	}
	r := NewRedisRecorder(rdb, opts...)
	r.owned = true
	return r, nil
}

func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := fieldRejected
	if ev.Admitted {
		field = fieldAdmitted
	}

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	minuteKey := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, minuteKey, r.ttl)
	}

	if ev.Endpoint != "" {
		pipe.HIncrBy(ctx, r.prefix+":endpoint", ev.Endpoint+":"+field, 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

func (r *RedisRecorder) Summary(ctx context.Context) (*Summary, error) {
	pipe := r.rdb.Pipeline()
	totalCmd := pipe.HGetAll(ctx, r.prefix+":total")
	endpointCmd := pipe.HGetAll(ctx, r.prefix+":endpoint")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	summary := &Summary{Endpoints: make(map[string]Counters)}

	total := totalCmd.Val()
	summary.Total.Admitted = parseCount(total[fieldAdmitted])
	summary.Total.Rejected = parseCount(total[fieldRejected])

	for key, value := range endpointCmd.Val() {
		// Endpoint templates may contain ':' so split on the last one.
		i := strings.LastIndex(key, ":")
		if i < 0 {
			continue
		}
		endpoint, field := key[:i], key[i+1:]
		c := summary.Endpoints[endpoint]
		switch field {
		case fieldAdmitted:
			c.Admitted = parseCount(value)
		case fieldRejected:
			c.Rejected = parseCount(value)
		default:
			continue
		}
		summary.Endpoints[endpoint] = c
	}

	return summary, nil
}

func (r *RedisRecorder) Close() error {
	if r.owned {
		return r.rdb.Close()
	}
	return nil
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
