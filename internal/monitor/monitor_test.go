package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

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

func newTestMonitor(bus shared.EventPublisher) *Monitor {
	return New(Config{
		MaxSamples:         100,
		SlowCheckThreshold: 50 * time.Millisecond,
		Thresholds: map[string]Thresholds{
			MetricCheckLatency: {Warning: 100, Critical: 500},
		},
		AlertCooldown:   time.Millisecond,
		MaxAlertHistory: 5,
	}, bus, logger.Default())
}

func TestSampleRing(t *testing.T) {
	r := newSampleRing(3)
	assert.Equal(t, 0, r.count())

	r.add(10)
	r.add(20)
	avg, min, max := r.stats()
	assert.Equal(t, 2, r.count())
	assert.Equal(t, float64(15), avg)
	assert.Equal(t, float64(10), min)
	assert.Equal(t, float64(20), max)

	// Wrapping overwrites the oldest samples.
	r.add(30)
	r.add(40)
	assert.Equal(t, 3, r.count())
	avg, min, max = r.stats()
	assert.Equal(t, float64(30), avg)
	assert.Equal(t, float64(20), min)
	assert.Equal(t, float64(40), max)
}

func TestRecordAndSummary(t *testing.T) {
	m := newTestMonitor(nil)

	m.Record(MetricCacheHitRate, 0.8)
	m.Record(MetricCacheHitRate, 0.6)

	summary := m.Summary()
	s, ok := summary[MetricCacheHitRate]
	require.True(t, ok)
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 0.7, s.Average, 0.001)
	assert.Equal(t, 0.6, s.Last)
}

func TestRecordCheckCounters(t *testing.T) {
	m := newTestMonitor(nil)

	m.RecordCheck(10*time.Millisecond, nil)
	m.RecordCheck(80*time.Millisecond, nil)
	m.RecordCheck(5*time.Millisecond, assert.AnError)

	total, slow, failed := m.CheckCounters()
	assert.Equal(t, uint64(3), total)
	assert.Equal(t, uint64(1), slow)
	assert.Equal(t, uint64(1), failed)
}

func TestAlertLifecycle(t *testing.T) {
	bus := &recordingBus{}
	m := newTestMonitor(bus)

	t.Run("raise warning", func(t *testing.T) {
		m.Record(MetricCheckLatency, 150)

		alerts := m.ActiveAlerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, SeverityWarning, alerts[0].Severity)
		assert.Contains(t, bus.types(), shared.EventAlertRaised)
	})

	t.Run("escalate to critical", func(t *testing.T) {
		m.Record(MetricCheckLatency, 600)

		alerts := m.ActiveAlerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, SeverityCritical, alerts[0].Severity)
		assert.NotNil(t, alerts[0].EscalatedAt)
		assert.Contains(t, bus.types(), shared.EventAlertEscalated)
	})

	t.Run("critical stays critical above warning", func(t *testing.T) {
		m.Record(MetricCheckLatency, 200)

		alerts := m.ActiveAlerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, SeverityCritical, alerts[0].Severity)
	})

	t.Run("resolve after cooldown", func(t *testing.T) {
		time.Sleep(5 * time.Millisecond)
		m.Record(MetricCheckLatency, 10)

		assert.Empty(t, m.ActiveAlerts())
		history := m.AlertHistory()
		require.Len(t, history, 1)
		assert.NotNil(t, history[0].ResolvedAt)
		assert.Contains(t, bus.types(), shared.EventAlertResolved)
	})
}

func TestAlertRaisesCriticalDirectly(t *testing.T) {
	m := newTestMonitor(nil)

	m.Record(MetricCheckLatency, 900)

	alerts := m.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Nil(t, alerts[0].EscalatedAt)
}

func TestAlertHistoryBounded(t *testing.T) {
	m := newTestMonitor(nil)

	for i := 0; i < 8; i++ {
		m.Record(MetricCheckLatency, 150)
		time.Sleep(2 * time.Millisecond)
		m.Record(MetricCheckLatency, 1)
	}

	assert.LessOrEqual(t, len(m.AlertHistory()), 5)
}

func TestUnknownMetricNeverAlerts(t *testing.T) {
	m := newTestMonitor(nil)
	m.Record(MetricEventQueueSize, 1e9)
	assert.Empty(t, m.ActiveAlerts())
}

func TestGaugeSampling(t *testing.T) {
	m := New(Config{
		MaxSamples:           10,
		MemorySampleInterval: 5 * time.Millisecond,
	}, nil, logger.Default())
	m.RegisterGauge(MetricCacheHitRate, func() float64 { return 0.9 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	assert.Eventually(t, func() bool {
		s, ok := m.Summary()[MetricCacheHitRate]
		return ok && s.Last == 0.9
	}, time.Second, 5*time.Millisecond)

	// The sampler records memory alongside the gauges.
	assert.Eventually(t, func() bool {
		_, ok := m.Summary()[MetricMemoryUsage]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestHealthScore(t *testing.T) {
	t.Run("idle engine is excellent", func(t *testing.T) {
		m := New(Config{MaxSamples: 10}, nil, logger.Default())
		report := m.Health()
		assert.Equal(t, float64(100), report.Score)
		assert.Equal(t, HealthExcellent, report.State)
	})

	t.Run("slow checks degrade the score", func(t *testing.T) {
		m := New(Config{MaxSamples: 10, SlowCheckThreshold: 50 * time.Millisecond}, nil, logger.Default())
		for i := 0; i < 4; i++ {
			m.RecordCheck(200*time.Millisecond, nil)
		}

		report := m.Health()
		// 15 points for 150ms over the latency budget, 25 for the
		// all-slow check ratio.
		assert.InDelta(t, 60, report.Score, 0.001)
		assert.Equal(t, HealthFair, report.State)
		assert.Equal(t, float64(1), report.SlowCheckRatio)
	})

	t.Run("errors weigh heaviest", func(t *testing.T) {
		m := New(Config{MaxSamples: 10, SlowCheckThreshold: 50 * time.Millisecond}, nil, logger.Default())
		m.RecordCheck(time.Millisecond, assert.AnError)

		report := m.Health()
		assert.InDelta(t, 65, report.Score, 0.001)
		assert.Equal(t, float64(1), report.ErrorRate)
	})

	t.Run("active alerts cost points", func(t *testing.T) {
		m := newTestMonitor(nil)
		m.Record(MetricCheckLatency, 600)

		report := m.Health()
		assert.Equal(t, 1, report.ActiveAlerts)
		assert.Less(t, report.Score, float64(90))
	})
}

func TestHealthStateChangePublished(t *testing.T) {
	bus := &recordingBus{}
	m := New(Config{MaxSamples: 10, SlowCheckThreshold: time.Millisecond}, bus, logger.Default())

	for i := 0; i < 5; i++ {
		m.RecordCheck(400*time.Millisecond, assert.AnError)
	}
	report := m.Health()
	require.NotEqual(t, HealthExcellent, report.State)
	assert.Contains(t, bus.types(), shared.EventHealthChanged)

	// A repeat report with no state change publishes nothing new.
	before := len(bus.types())
	_ = m.Health()
	assert.Equal(t, before, len(bus.types()))
}
