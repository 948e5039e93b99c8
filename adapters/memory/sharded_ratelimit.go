package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/tradegate/domain/ratelimit"
	"github.com/artpar/tradegate/ports"
)

// rateLimitShard is a single shard of the rate limit store.
type rateLimitShard struct {
	mu      sync.RWMutex
	windows map[string]ratelimit.Window
}

// ShardedRateLimitStore is a sharded in-memory rate limit store.
// Sharding reduces lock contention so one identity's admission check never
// waits on another identity hashed to a different shard.
type ShardedRateLimitStore struct {
	shards    []*rateLimitShard
	numShards int
	retention time.Duration
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// ShardedRateLimitConfig configures the sharded rate limit store.
type ShardedRateLimitConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to sweep idle windows (default: 5m)
	Retention       time.Duration // Idle time before a window is dropped (default: 1h)
}

// NewShardedRateLimitStore creates a new sharded in-memory rate limit store.
func NewShardedRateLimitStore(cfg ShardedRateLimitConfig) *ShardedRateLimitStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}

	s := &ShardedRateLimitStore{
		shards:    make([]*rateLimitShard, cfg.NumShards),
		numShards: cfg.NumShards,
		retention: cfg.Retention,
		done:      make(chan struct{}),
	}

	for i := range s.shards {
		s.shards[i] = &rateLimitShard{
			windows: make(map[string]ratelimit.Window),
		}
	}

	// Start background cleanup
	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard returns the shard for a given identity using consistent hashing.
func (s *ShardedRateLimitStore) getShard(identity string) *rateLimitShard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// GetAndCheck atomically loads the identity's window, runs the admission
// check, and stores the updated window. The shard lock covers the whole
// read-prune-compare-append sequence, so concurrent callers for one
// identity are linearized and the window never over-admits.
func (s *ShardedRateLimitStore) GetAndCheck(ctx context.Context, identity string, cfg ratelimit.Config, now time.Time) (ratelimit.Decision, error) {
	shard := s.getShard(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	window := shard.windows[identity]
	decision, newWindow := ratelimit.Check(window, cfg, now)
	shard.windows[identity] = newWindow

	return decision, nil
}

// cleanupLoop periodically removes idle windows.
func (s *ShardedRateLimitStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup()
		case <-s.done:
			return
		}
	}
}

// doCleanup drops windows whose newest stamp is older than the retention
// period. Such windows admit like empty ones, so dropping them changes
// nothing observable.
func (s *ShardedRateLimitStore) doCleanup() {
	now := time.Now()
	retention := ratelimit.Config{Window: s.retention}

	for _, shard := range s.shards {
		shard.mu.Lock()
		for identity, window := range shard.windows {
			if ratelimit.Expired(window, retention, now) {
				delete(shard.windows, identity)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *ShardedRateLimitStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Clear removes all windows (for testing).
func (s *ShardedRateLimitStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.windows = make(map[string]ratelimit.Window)
		shard.mu.Unlock()
	}
}

// Len returns the total number of tracked identities (for testing).
func (s *ShardedRateLimitStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.windows)
		shard.mu.RUnlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*ShardedRateLimitStore)(nil)
