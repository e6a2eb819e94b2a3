package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// fakeL2 is an in-memory L2Store that can be switched into a failing mode.
// Like the Redis store, it honors the absolute expiry written by Set.
type fakeL2 struct {
	mu      sync.Mutex
	data    map[string]fakeEntry
	failing bool
	gets    int
	sets    int
}

type fakeEntry struct {
	value     []byte
	expiresAt time.Time
}

func newFakeL2() *fakeL2 {
	return &fakeL2{data: make(map[string]fakeEntry)}
}

func (f *fakeL2) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failing {
		return nil, 0, false, errors.New("store unavailable")
	}
	e, ok := f.data[key]
	if !ok {
		return nil, 0, false, nil
	}
	var remaining time.Duration
	if !e.expiresAt.IsZero() {
		remaining = time.Until(e.expiresAt)
		if remaining <= 0 {
			delete(f.data, key)
			return nil, 0, false, nil
		}
	}
	return e.value, remaining, true, nil
}

func (f *fakeL2) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.failing {
		return errors.New("store unavailable")
	}
	f.data[key] = fakeEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (f *fakeL2) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("store unavailable")
	}
	delete(f.data, key)
	return nil
}

func (f *fakeL2) DeleteMatching(_ context.Context, pattern string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errors.New("store unavailable")
	}
	removed := 0
	for key := range f.data {
		if strings.Contains(key, pattern) {
			delete(f.data, key)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeL2) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("store unavailable")
	}
	f.data = make(map[string]fakeEntry)
	return nil
}

func (f *fakeL2) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType())
	}
	return out
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestManager(l2 L2Store, bus shared.EventPublisher) *Manager {
	return NewManager(Config{
		Types: map[string]TypeConfig{
			"small": {MaxSize: 2, TTL: time.Minute},
		},
		Default: TypeConfig{MaxSize: 64, TTL: time.Minute},
	}, l2, bus, logger.Default())
}

func TestManagerRoundTrip(t *testing.T) {
	m := newTestManager(nil, nil)
	ctx := context.Background()

	m.Set(ctx, "progress", "user:1", payload{Name: "streak", Count: 3})

	var got payload
	require.True(t, m.Get(ctx, "progress", "user:1", &got))
	assert.Equal(t, payload{Name: "streak", Count: 3}, got)

	assert.False(t, m.Get(ctx, "progress", "user:2", &got))
}

func TestManagerTTLExpiry(t *testing.T) {
	m := NewManager(Config{
		Default: TypeConfig{MaxSize: 16, TTL: time.Minute},
	}, nil, nil, logger.Default())
	ctx := context.Background()

	m.SetTTL(ctx, "progress", "user:1", payload{Count: 1}, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	var got payload
	assert.False(t, m.Get(ctx, "progress", "user:1", &got))
}

func TestManagerLRUEviction(t *testing.T) {
	m := newTestManager(nil, nil)
	ctx := context.Background()

	m.Set(ctx, "small", "a", payload{Count: 1})
	m.Set(ctx, "small", "b", payload{Count: 2})

	// Touch "a" so "b" becomes the eviction candidate.
	var got payload
	require.True(t, m.Get(ctx, "small", "a", &got))

	m.Set(ctx, "small", "c", payload{Count: 3})

	assert.True(t, m.Get(ctx, "small", "a", &got))
	assert.False(t, m.Get(ctx, "small", "b", &got))
	assert.True(t, m.Get(ctx, "small", "c", &got))

	stats := m.Stats()["small"]
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
}

func TestManagerWriteThroughAndPromotion(t *testing.T) {
	l2 := newFakeL2()
	m := newTestManager(l2, nil)
	ctx := context.Background()

	m.Set(ctx, "progress", "user:1", payload{Count: 7})
	assert.Contains(t, l2.data, "progress:user:1")

	// A fresh manager sharing the store simulates a process restart:
	// L1 is cold, the value survives in L2 and is promoted on read.
	m2 := newTestManager(l2, nil)
	var got payload
	require.True(t, m2.Get(ctx, "progress", "user:1", &got))
	assert.Equal(t, 7, got.Count)

	// The promoted copy now serves from L1.
	gets := l2.gets
	require.True(t, m2.Get(ctx, "progress", "user:1", &got))
	assert.Equal(t, gets, l2.gets)

	stats := m2.Stats()["progress"]
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
}

func TestManagerPromotionHonorsStoreExpiry(t *testing.T) {
	l2 := newFakeL2()
	m := newTestManager(l2, nil)
	ctx := context.Background()

	m.SetTTL(ctx, "progress", "user:1", payload{Count: 7}, 30*time.Millisecond)

	// A cold manager promotes from L2; the promoted copy inherits the
	// entry's remaining lifetime instead of a fresh full TTL.
	m2 := newTestManager(l2, nil)
	var got payload
	require.True(t, m2.Get(ctx, "progress", "user:1", &got))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, m2.Get(ctx, "progress", "user:1", &got))
}

func TestManagerDegradesToMissOnStoreFailure(t *testing.T) {
	l2 := newFakeL2()
	l2.setFailing(true)
	bus := &recordingBus{}
	m := newTestManager(l2, bus)
	ctx := context.Background()

	// Writes keep the L1 copy even when the store rejects them.
	m.Set(ctx, "progress", "user:1", payload{Count: 1})

	var got payload
	assert.True(t, m.Get(ctx, "progress", "user:1", &got))

	// A cold read against the broken store is just a miss.
	m2 := newTestManager(l2, bus)
	assert.False(t, m2.Get(ctx, "progress", "user:1", &got))

	assert.Contains(t, bus.types(), shared.EventCacheDegraded)
}

func TestManagerInvalidatePattern(t *testing.T) {
	l2 := newFakeL2()
	bus := &recordingBus{}
	m := newTestManager(l2, bus)
	ctx := context.Background()

	m.Set(ctx, "progress", "user:1:progress:10", payload{Count: 1})
	m.Set(ctx, "progress", "user:1:progress:11", payload{Count: 2})
	m.Set(ctx, "progress", "user:12:progress:10", payload{Count: 3})

	removed := m.InvalidatePattern(ctx, "progress", "user:1:")
	assert.Equal(t, 2, removed)

	var got payload
	assert.False(t, m.Get(ctx, "progress", "user:1:progress:10", &got))
	assert.False(t, m.Get(ctx, "progress", "user:1:progress:11", &got))
	assert.True(t, m.Get(ctx, "progress", "user:12:progress:10", &got))

	// The persisted tier lost the same keys.
	assert.NotContains(t, l2.data, "progress:user:1:progress:10")
	assert.Contains(t, l2.data, "progress:user:12:progress:10")

	assert.Contains(t, bus.types(), shared.EventCacheInvalidated)
}

func TestManagerClear(t *testing.T) {
	l2 := newFakeL2()
	m := newTestManager(l2, nil)
	ctx := context.Background()

	m.Set(ctx, "progress", "a", payload{Count: 1})
	m.Set(ctx, "achievement", "b", payload{Count: 2})
	m.Clear(ctx)

	var got payload
	assert.False(t, m.Get(ctx, "progress", "a", &got))
	assert.False(t, m.Get(ctx, "achievement", "b", &got))
	assert.Empty(t, l2.data)
}

func TestManagerJanitorSweep(t *testing.T) {
	m := NewManager(Config{
		Default:       TypeConfig{MaxSize: 16, TTL: 5 * time.Millisecond},
		SweepInterval: 10 * time.Millisecond,
	}, nil, nil, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	m.Set(ctx, "progress", "a", payload{Count: 1})

	assert.Eventually(t, func() bool {
		return m.Stats()["progress"].Size == 0
	}, time.Second, 10*time.Millisecond)
}

func TestManagerStatsHitRate(t *testing.T) {
	m := newTestManager(nil, nil)
	ctx := context.Background()

	m.Set(ctx, "progress", "a", payload{Count: 1})

	var got payload
	m.Get(ctx, "progress", "a", &got)
	m.Get(ctx, "progress", "a", &got)
	m.Get(ctx, "progress", "missing", &got)

	stats := m.Stats()["progress"]
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}
