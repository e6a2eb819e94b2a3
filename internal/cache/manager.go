package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/circuitbreaker"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// L2Store is the persisted second tier. Implementations live in
// infrastructure (Redis). Every method may fail; the manager treats any
// failure as a miss and keeps serving from L1.
type L2Store interface {
	// Get returns the stored bytes, the entry's remaining lifetime, and
	// whether the key was present. A zero lifetime means the entry
	// carries no explicit expiry.
	Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error)

	// Set stores bytes with an absolute expiry.
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// Delete removes one key.
	Delete(ctx context.Context, key string) error

	// DeleteMatching removes every key containing the pattern as a
	// substring and returns the number removed.
	DeleteMatching(ctx context.Context, pattern string) (int, error)

	// Clear removes every key owned by this store.
	Clear(ctx context.Context) error
}

// TypeConfig sizes one cache type.
type TypeConfig struct {
	// MaxSize bounds the L1 entry count. Zero means unbounded.
	MaxSize int

	// TTL is the default entry lifetime in both tiers.
	TTL time.Duration
}

// Config configures the manager.
type Config struct {
	// Types maps cache type name to its sizing. Lookups against an
	// unregistered type fall back to Default.
	Types map[string]TypeConfig

	// Default applies to cache types without explicit config.
	Default TypeConfig

	// SweepInterval is how often the janitor drops expired L1 entries.
	// Zero disables the janitor.
	SweepInterval time.Duration
}

// DefaultConfig returns the manager defaults used when the environment
// provides nothing better.
func DefaultConfig() Config {
	return Config{
		Default:       TypeConfig{MaxSize: 1024, TTL: 5 * time.Minute},
		SweepInterval: time.Minute,
	}
}

// Manager is the two-tier cache. All methods are safe for concurrent use
// and none of them returns an error: a failed lookup is a miss, a failed
// write is dropped. Start launches the janitor; Stop halts it.
type Manager struct {
	cfg Config
	l2  L2Store
	bus shared.EventPublisher
	log *logger.Logger

	breaker *circuitbreaker.CircuitBreaker

	mu     sync.Mutex
	caches map[string]*l1Cache
	l2Hits map[string]*uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager creates a manager. l2 may be nil for L1-only operation; bus
// may be nil to skip degradation events.
func NewManager(cfg Config, l2 L2Store, bus shared.EventPublisher, log *logger.Logger) *Manager {
	if cfg.Default.TTL <= 0 {
		cfg.Default.TTL = 5 * time.Minute
	}

	m := &Manager{
		cfg:    cfg,
		l2:     l2,
		bus:    bus,
		log:    log.With(logger.Component("cache")),
		caches: make(map[string]*l1Cache),
		l2Hits: make(map[string]*uint64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.breaker = circuitbreaker.CacheStoreBreaker(func(name string, from, to circuitbreaker.State) {
		m.log.Warn("cache store circuit state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	})
	return m
}

// Start launches the janitor goroutine. Safe to call with a disabled
// sweep interval; it then only waits for Stop.
func (m *Manager) Start(ctx context.Context) {
	go m.janitor(ctx)
}

// Stop halts the janitor and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Get looks up a key, L1 first, then L2. On an L2 hit the value is
// promoted into L1 for the shorter of the type's TTL and the entry's
// remaining lifetime, so a promoted copy never outlives the persisted
// one. The value is deserialized into dest. Returns false on any miss,
// expiry, tier failure, or deserialization failure.
func (m *Manager) Get(ctx context.Context, cacheType, key string, dest any) bool {
	c := m.cacheFor(cacheType)
	now := time.Now()

	if raw, ok := c.get(key, now); ok {
		if err := json.Unmarshal(raw, dest); err != nil {
			// Corrupt resident entry: drop it and treat as a miss.
			c.delete(key)
			m.log.Warn("dropping corrupt cache entry",
				logger.CacheType(cacheType), logger.CacheKey(key), logger.Err(err))
			return false
		}
		return true
	}

	if m.l2 == nil {
		return false
	}

	fullKey := l2Key(cacheType, key)
	var raw []byte
	var remaining time.Duration
	var found bool
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, remaining, found, err = m.l2.Get(ctx, fullKey)
		return err
	})
	if err != nil {
		m.degrade(cacheType, "get", err)
		return false
	}
	if !found {
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		m.log.Warn("dropping corrupt persisted cache entry",
			logger.CacheType(cacheType), logger.CacheKey(key), logger.Err(err))
		_ = m.l2.Delete(ctx, fullKey)
		return false
	}

	ttl := m.typeConfig(cacheType).TTL
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	c.set(key, raw, ttl, now)
	m.countL2Hit(cacheType)
	return true
}

// Set stores a value in both tiers with the type's default TTL.
func (m *Manager) Set(ctx context.Context, cacheType, key string, value any) {
	m.SetTTL(ctx, cacheType, key, value, 0)
}

// SetTTL stores a value in both tiers with an explicit TTL. A
// serialization failure drops the write entirely; an L2 failure leaves
// the L1 copy in place.
func (m *Manager) SetTTL(ctx context.Context, cacheType, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		m.log.Warn("cache set dropped: value not serializable",
			logger.CacheType(cacheType), logger.CacheKey(key), logger.Err(err))
		return
	}

	if ttl <= 0 {
		ttl = m.typeConfig(cacheType).TTL
	}
	now := time.Now()
	m.cacheFor(cacheType).set(key, raw, ttl, now)

	if m.l2 == nil {
		return
	}
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.l2.Set(ctx, l2Key(cacheType, key), raw, now.Add(ttl))
	})
	if err != nil {
		m.degrade(cacheType, "set", err)
	}
}

// Delete removes a key from both tiers.
func (m *Manager) Delete(ctx context.Context, cacheType, key string) {
	m.cacheFor(cacheType).delete(key)

	if m.l2 == nil {
		return
	}
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.l2.Delete(ctx, l2Key(cacheType, key))
	})
	if err != nil {
		m.degrade(cacheType, "delete", err)
	}
}

// InvalidatePattern removes every key of the type containing pattern as a
// substring, in both tiers, and returns the number of L1 entries removed.
// Exact-key deletes stay cheap; this is the bulk path for "everything
// about user N".
func (m *Manager) InvalidatePattern(ctx context.Context, cacheType, pattern string) int {
	removed := m.cacheFor(cacheType).deleteMatching(pattern)

	if m.l2 != nil {
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			_, err := m.l2.DeleteMatching(ctx, l2Key(cacheType, pattern))
			return err
		})
		if err != nil {
			m.degrade(cacheType, "invalidate", err)
		}
	}

	if m.bus != nil {
		_ = m.bus.Publish(shared.NewGenericEvent(shared.EventCacheInvalidated, pattern, map[string]any{
			"cache_type": cacheType,
			"pattern":    pattern,
			"removed":    removed,
		}))
	}
	return removed
}

// Clear empties both tiers.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	for _, c := range m.caches {
		c.clear()
	}
	m.mu.Unlock()

	if m.l2 == nil {
		return
	}
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.l2.Clear(ctx)
	})
	if err != nil {
		m.degrade("*", "clear", err)
	}
}

// Stats returns a per-type counter snapshot.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.caches))
	for name, c := range m.caches {
		hits, misses, evicted, size := c.snapshot()
		if p := m.l2Hits[name]; p != nil {
			// L2 hits were counted as L1 misses on the way through.
			hits += *p
			misses -= *p
		}
		out[name] = Stats{
			Type:      name,
			Hits:      hits,
			Misses:    misses,
			Evictions: evicted,
			Size:      size,
			HitRate:   hitRate(hits, misses),
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNALS
// ══════════════════════════════════════════════════════════════════════════════

func (m *Manager) janitor(ctx context.Context) {
	defer close(m.done)

	if m.cfg.SweepInterval <= 0 {
		select {
		case <-m.stopCh:
		case <-ctx.Done():
		}
		return
	}

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			caches := make([]*l1Cache, 0, len(m.caches))
			for _, c := range m.caches {
				caches = append(caches, c)
			}
			m.mu.Unlock()

			total := 0
			for _, c := range caches {
				total += c.sweep(now)
			}
			if total > 0 {
				m.log.Debug("janitor removed expired entries", logger.Int("removed", total))
			}
		}
	}
}

func (m *Manager) cacheFor(cacheType string) *l1Cache {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.caches[cacheType]; ok {
		return c
	}
	tc := m.typeConfigLocked(cacheType)
	c := newL1Cache(tc.MaxSize, tc.TTL)
	m.caches[cacheType] = c
	var n uint64
	m.l2Hits[cacheType] = &n
	return c
}

func (m *Manager) typeConfig(cacheType string) TypeConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typeConfigLocked(cacheType)
}

func (m *Manager) typeConfigLocked(cacheType string) TypeConfig {
	if tc, ok := m.cfg.Types[cacheType]; ok {
		if tc.TTL <= 0 {
			tc.TTL = m.cfg.Default.TTL
		}
		return tc
	}
	return m.cfg.Default
}

func (m *Manager) countL2Hit(cacheType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.l2Hits[cacheType]; p != nil {
		*p++
	}
}

// degrade logs an L2 failure and publishes a degradation event. The caller
// has already fallen back to a miss; this is observability only.
func (m *Manager) degrade(cacheType, op string, err error) {
	m.log.Warn("cache store degraded to miss",
		logger.CacheType(cacheType),
		logger.Operation(op),
		logger.Err(err))
	if m.bus != nil {
		_ = m.bus.Publish(shared.NewGenericEvent(shared.EventCacheDegraded, cacheType, map[string]any{
			"cache_type": cacheType,
			"operation":  op,
			"error":      err.Error(),
		}))
	}
}

// l2Key namespaces a key by cache type for the shared persisted store.
func l2Key(cacheType, key string) string {
	return fmt.Sprintf("%s:%s", cacheType, key)
}
