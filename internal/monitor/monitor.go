// Package monitor implements the performance monitor: bounded metric
// sample rings, threshold alerting with escalation, and an aggregate
// health score for the engine.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// Well-known metric names recorded by the engine.
const (
	MetricCheckLatency   = "check_latency_ms"
	MetricCacheHitRate   = "cache_hit_rate"
	MetricMemoryUsage    = "memory_usage_mb"
	MetricBatchDuration  = "batch_duration_ms"
	MetricEventQueueSize = "event_queue_size"
)

// Config configures the monitor.
type Config struct {
	// MaxSamples bounds each metric's sample ring.
	MaxSamples int

	// SlowCheckThreshold marks a check as slow in the counters. Soft:
	// slow checks degrade the health score, they are never aborted.
	SlowCheckThreshold time.Duration

	// Thresholds maps metric name to its alert thresholds.
	Thresholds map[string]Thresholds

	// AlertCooldown is how long a metric must stay under its warning
	// threshold before its active alert resolves.
	AlertCooldown time.Duration

	// MemorySampleInterval is how often the background sampler records
	// process memory. Zero disables the sampler.
	MemorySampleInterval time.Duration

	// MaxAlertHistory bounds the resolved-alert history.
	MaxAlertHistory int
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		MaxSamples:         1000,
		SlowCheckThreshold: 50 * time.Millisecond,
		Thresholds: map[string]Thresholds{
			MetricCheckLatency: {Warning: 100, Critical: 500},
			MetricMemoryUsage:  {Warning: 512, Critical: 1024},
		},
		AlertCooldown:        time.Minute,
		MemorySampleInterval: 30 * time.Second,
		MaxAlertHistory:      100,
	}
}

// sampleRing is a fixed-capacity ring of float64 samples.
type sampleRing struct {
	samples []float64
	next    int
	full    bool
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{samples: make([]float64, capacity)}
}

func (r *sampleRing) add(v float64) {
	r.samples[r.next] = v
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *sampleRing) count() int {
	if r.full {
		return len(r.samples)
	}
	return r.next
}

func (r *sampleRing) stats() (avg, min, max float64) {
	n := r.count()
	if n == 0 {
		return 0, 0, 0
	}

	min = r.samples[0]
	max = r.samples[0]
	var sum float64
	for i := 0; i < n; i++ {
		v := r.samples[i]
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return sum / float64(n), min, max
}

// MetricSummary is a point-in-time summary of one metric's ring.
type MetricSummary struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Last    float64 `json:"last"`
}

// Monitor collects engine metrics and maintains alerts and health state.
// All methods are safe for concurrent use.
type Monitor struct {
	cfg Config
	bus shared.EventPublisher
	log *logger.Logger

	mu          sync.Mutex
	rings       map[string]*sampleRing
	lastValues  map[string]float64
	gauges      map[string]func() float64
	checksTotal uint64
	checksSlow  uint64
	checksErr   uint64
	alerts      map[string]*Alert
	history     []*Alert
	lastState   HealthState

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a monitor. bus may be nil to skip alert events.
func New(cfg Config, bus shared.EventPublisher, log *logger.Logger) *Monitor {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 1000
	}
	if cfg.SlowCheckThreshold <= 0 {
		cfg.SlowCheckThreshold = 50 * time.Millisecond
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = time.Minute
	}

	return &Monitor{
		cfg:        cfg,
		bus:        bus,
		log:        log.With(logger.Component("monitor")),
		rings:      make(map[string]*sampleRing),
		lastValues: make(map[string]float64),
		gauges:     make(map[string]func() float64),
		alerts:     make(map[string]*Alert),
		lastState:  HealthExcellent,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the background memory sampler.
func (m *Monitor) Start(ctx context.Context) {
	go m.sampleLoop(ctx)
}

// Stop halts the sampler and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Record adds one sample for a metric and updates its alert state.
func (m *Monitor) Record(metric string, value float64) {
	m.mu.Lock()
	ring, ok := m.rings[metric]
	if !ok {
		ring = newSampleRing(m.cfg.MaxSamples)
		m.rings[metric] = ring
	}
	ring.add(value)
	m.lastValues[metric] = value
	m.updateAlertLocked(metric, value, time.Now())
	m.mu.Unlock()
}

// RegisterGauge attaches a pull-based metric source (cache hit rate,
// event queue depth). The background sampler reads it on every tick.
func (m *Monitor) RegisterGauge(metric string, fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metric] = fn
}

// RecordCheck records one trigger check: its latency and whether it failed.
func (m *Monitor) RecordCheck(latency time.Duration, err error) {
	m.mu.Lock()
	m.checksTotal++
	if latency > m.cfg.SlowCheckThreshold {
		m.checksSlow++
	}
	if err != nil {
		m.checksErr++
	}
	m.mu.Unlock()

	m.Record(MetricCheckLatency, float64(latency.Milliseconds()))
}

// Summary returns the per-metric ring summaries.
func (m *Monitor) Summary() map[string]MetricSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]MetricSummary, len(m.rings))
	for name, ring := range m.rings {
		avg, min, max := ring.stats()
		out[name] = MetricSummary{
			Name:    name,
			Count:   ring.count(),
			Average: avg,
			Min:     min,
			Max:     max,
			Last:    m.lastValues[name],
		}
	}
	return out
}

// CheckCounters returns the cumulative check counters.
func (m *Monitor) CheckCounters() (total, slow, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checksTotal, m.checksSlow, m.checksErr
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMORY SAMPLER
// ══════════════════════════════════════════════════════════════════════════════

func (m *Monitor) sampleLoop(ctx context.Context) {
	defer close(m.done)

	if m.cfg.MemorySampleInterval <= 0 {
		select {
		case <-m.stopCh:
		case <-ctx.Done():
		}
		return
	}

	ticker := time.NewTicker(m.cfg.MemorySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Record(MetricMemoryUsage, currentMemoryMB())
			m.sampleGauges()
		}
	}
}

// sampleGauges reads every registered gauge outside the monitor lock;
// gauge functions may take other locks (cache stats).
func (m *Monitor) sampleGauges() {
	m.mu.Lock()
	gauges := make(map[string]func() float64, len(m.gauges))
	for name, fn := range m.gauges {
		gauges[name] = fn
	}
	m.mu.Unlock()

	for name, fn := range gauges {
		m.Record(name, fn())
	}
}

func currentMemoryMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1024 * 1024)
}
