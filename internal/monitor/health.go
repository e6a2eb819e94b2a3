package monitor

import (
	"time"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// HealthState buckets the health score.
type HealthState string

const (
	HealthExcellent HealthState = "excellent"
	HealthGood      HealthState = "good"
	HealthFair      HealthState = "fair"
	HealthPoor      HealthState = "poor"
	HealthCritical  HealthState = "critical"
)

// latencyBudgetMs is the per-check latency the score treats as free;
// average latency beyond it costs points.
const latencyBudgetMs = 50.0

// HealthReport is a point-in-time health assessment.
type HealthReport struct {
	Score          float64     `json:"score"`
	State          HealthState `json:"state"`
	AvgLatencyMs   float64     `json:"avg_latency_ms"`
	SlowCheckRatio float64     `json:"slow_check_ratio"`
	ErrorRate      float64     `json:"error_rate"`
	ActiveAlerts   int         `json:"active_alerts"`
	GeneratedAt    time.Time   `json:"generated_at"`
}

// Health computes the current health score and state. The score starts at
// 100 and loses points for average latency over budget, slow-check ratio,
// error rate, and active alerts. A state change is published on the bus.
func (m *Monitor) Health() HealthReport {
	m.mu.Lock()

	var avgLatency float64
	if ring, ok := m.rings[MetricCheckLatency]; ok {
		avgLatency, _, _ = ring.stats()
	}

	var slowRatio, errRate float64
	if m.checksTotal > 0 {
		slowRatio = float64(m.checksSlow) / float64(m.checksTotal)
		errRate = float64(m.checksErr) / float64(m.checksTotal)
	}
	activeAlerts := len(m.alerts)

	score := 100.0

	if avgLatency > latencyBudgetMs {
		// 1 point per 10ms over budget, capped at 30.
		penalty := (avgLatency - latencyBudgetMs) / 10
		if penalty > 30 {
			penalty = 30
		}
		score -= penalty
	}

	// Up to 25 points for slow checks, 35 for errors.
	score -= slowRatio * 25
	score -= errRate * 35

	for _, a := range m.alerts {
		if a.Severity == SeverityCritical {
			score -= 15
		} else {
			score -= 5
		}
	}

	if score < 0 {
		score = 0
	}

	state := stateFor(score)
	changed := state != m.lastState
	m.lastState = state
	m.mu.Unlock()

	if changed {
		m.log.Info("health state changed",
			logger.String("state", string(state)),
			logger.HealthScore(score))
		if m.bus != nil {
			_ = m.bus.Publish(shared.NewGenericEvent(shared.EventHealthChanged, string(state), map[string]any{
				"state": string(state),
				"score": score,
			}))
		}
	}

	return HealthReport{
		Score:          score,
		State:          state,
		AvgLatencyMs:   avgLatency,
		SlowCheckRatio: slowRatio,
		ErrorRate:      errRate,
		ActiveAlerts:   activeAlerts,
		GeneratedAt:    time.Now().UTC(),
	}
}

func stateFor(score float64) HealthState {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 75:
		return HealthGood
	case score >= 60:
		return HealthFair
	case score >= 40:
		return HealthPoor
	default:
		return HealthCritical
	}
}
