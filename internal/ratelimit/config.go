package ratelimit

import (
	"tokengate/internal/models"
)

// PolicyFromConfig converts the rate_limit configuration section into a
// Policy. The endpoint map is copied.
func PolicyFromConfig(cfg models.RateLimitConfig) Policy {
	p := Policy{Endpoints: make(map[string]Limit, len(cfg.Endpoints))}
	for endpoint, l := range cfg.Endpoints {
		p.Endpoints[endpoint] = Limit{Requests: l.Limit, Window: l.Window}
	}
	if cfg.Default != nil {
		p.Default = &Limit{Requests: cfg.Default.Limit, Window: cfg.Default.Window}
	}
	return p
}

// StoreOptionsFromConfig returns the store options implied by cfg.
func StoreOptionsFromConfig(cfg models.RateLimitConfig) []StoreOption {
	var opts []StoreOption
	if cfg.Shards > 0 {
		opts = append(opts, WithShards(cfg.Shards))
	}
	if cfg.MaxKeys > 0 {
		opts = append(opts, WithMaxKeys(cfg.MaxKeys))
	}
	return opts
}
