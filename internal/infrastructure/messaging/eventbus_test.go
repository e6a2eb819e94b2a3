package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
)

func newSyncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:     false,
		EnableMetrics: true,
	})
}

func awardedEvent(userID string) shared.Event {
	return shared.NewGenericEvent(shared.EventAchievementAwarded, userID, map[string]any{
		"user_id": userID,
	})
}

func TestPublishToTypedHandler(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	var got []shared.Event
	require.NoError(t, bus.Subscribe(shared.EventAchievementAwarded, func(e shared.Event) error {
		got = append(got, e)
		return nil
	}))

	require.NoError(t, bus.Publish(awardedEvent("7")))
	require.NoError(t, bus.Publish(shared.NewGenericEvent(shared.EventCacheDegraded, "progress", nil)))

	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].AggregateID())
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	var count int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		count++
		return nil
	}))

	require.NoError(t, bus.Publish(awardedEvent("7")))
	require.NoError(t, bus.Publish(shared.NewGenericEvent(shared.EventBatchCompleted, "message_sent", nil)))

	assert.Equal(t, 2, count)
}

func TestHandlerErrorNeverPropagates(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventAchievementAwarded, func(shared.Event) error {
		return errors.New("notification delivery failed")
	}))

	assert.NoError(t, bus.Publish(awardedEvent("7")))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalHandlerExecs)
	assert.Equal(t, float64(0), snap.HandlerSuccessRate)
}

func TestAsyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		EnableMetrics:  true,
	})

	var delivered atomic.Int64
	var wg sync.WaitGroup
	wg.Add(10)
	require.NoError(t, bus.Subscribe(shared.EventProgressUpdated, func(shared.Event) error {
		delivered.Add(1)
		wg.Done()
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewGenericEvent(shared.EventProgressUpdated, "7", nil)))
	}
	wg.Wait()

	assert.Equal(t, int64(10), delivered.Load())
	require.NoError(t, bus.Close())
	assert.Equal(t, int64(0), bus.Pending())
}

func TestCloseDrainsAndRejects(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 2,
	})

	var delivered atomic.Int64
	require.NoError(t, bus.Subscribe(shared.EventAchievementAwarded, func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		delivered.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(awardedEvent("7")))
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(awardedEvent("8")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventAchievementAwarded, func(shared.Event) error { return nil }), ErrEventBusClosed)

	// Close is idempotent.
	assert.NoError(t, bus.Close())
}

func TestNilGuards(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventAchievementAwarded, nil))
	assert.Error(t, bus.SubscribeAll(nil))
}

func TestMetricsSnapshot(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventAchievementAwarded, func(shared.Event) error {
		return nil
	}))
	require.NoError(t, bus.Publish(awardedEvent("7")))
	require.NoError(t, bus.Publish(awardedEvent("8")))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.Equal(t, float64(1), snap.HandlerSuccessRate)
}
