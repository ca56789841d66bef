package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"tokengate/internal/clock"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 64

// shard guards insertion and lookup for a slice of the key space. Bucket
// counters are synchronized by the buckets themselves.
type shard struct {
	mu      sync.RWMutex
	buckets map[Key]*Bucket
}

// Store is the process-wide registry of buckets. Keys are spread over a fixed
// number of shards so that inserting one key only locks its own shard.
type Store struct {
	shards  []shard
	mask    uint64
	maxKeys int64
	size    atomic.Int64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.shards = make([]shard, nextPowerOfTwo(n))
		}
	}
}

// WithMaxKeys bounds the number of live buckets. Zero means unbounded.
func WithMaxKeys(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxKeys = int64(n)
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		shards: make([]shard, DefaultShards),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i].buckets = make(map[Key]*Bucket)
	}
	s.mask = uint64(len(s.shards) - 1)
	return s
}

// GetOrCreate returns the bucket for key, creating it with limit if the key
// has not been seen. Concurrent callers for the same new key all receive the
// same bucket.
func (s *Store) GetOrCreate(key Key, limit Limit) (*Bucket, error) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	b, ok := sh.buckets[key]
	sh.mu.RUnlock()
	if ok {
		return b, nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if b, ok := sh.buckets[key]; ok {
		return b, nil
	}
	if !s.reserve() {
		return nil, ErrStoreExhausted
	}
	b = newBucket(limit)
	sh.buckets[key] = b
	return b, nil
}

// Get returns the bucket for key if it exists.
func (s *Store) Get(key Key) (*Bucket, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	b, ok := sh.buckets[key]
	return b, ok
}

// Len returns the number of live buckets.
func (s *Store) Len() int {
	return int(s.size.Load())
}

// Sweep removes buckets that have been idle for at least idle and whose
// window has ended. It returns the number of buckets removed.
func (s *Store) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, b := range sh.buckets {
			if b.evictIfIdle(now, cutoff) {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	s.size.Add(int64(-removed))
	return removed
}

// StartJanitor sweeps idle buckets every interval until ctx is cancelled.
// A non-positive interval or idle duration disables it.
func (s *Store) StartJanitor(ctx context.Context, c clock.Clock, every, idle time.Duration) {
	if every <= 0 || idle <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(c.Now(), idle); n > 0 {
					slog.Debug("Swept idle rate limit buckets", "removed", n, "remaining", s.Len())
				}
			}
		}
	}()
}

// reserve claims room for one more bucket.
func (s *Store) reserve() bool {
	for {
		n := s.size.Load()
		if s.maxKeys > 0 && n >= s.maxKeys {
			return false
		}
		if s.size.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Store) shardFor(key Key) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(key.Endpoint)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key.Token)
	return &s.shards[h.Sum64()&s.mask]
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
