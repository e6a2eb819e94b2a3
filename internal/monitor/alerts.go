package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Thresholds holds the (warning, critical) boundaries for one metric.
// A sample at or above Warning raises a warning alert; at or above
// Critical it raises (or escalates to) a critical alert.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// Alert is one threshold breach, from raise through optional escalation
// to resolution. At most one alert is active per metric.
type Alert struct {
	ID          uuid.UUID  `json:"id"`
	Metric      string     `json:"metric"`
	Severity    Severity   `json:"severity"`
	Value       float64    `json:"value"`
	Threshold   float64    `json:"threshold"`
	RaisedAt    time.Time  `json:"raised_at"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	// lastBreach tracks when the metric last sat above its warning
	// threshold, for cooldown-based resolution.
	lastBreach time.Time
}

// ActiveAlerts returns a copy of the currently active alerts.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	return out
}

// AlertHistory returns a copy of resolved alerts, oldest first.
func (m *Monitor) AlertHistory() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.history))
	for _, a := range m.history {
		out = append(out, *a)
	}
	return out
}

// updateAlertLocked applies one sample to the metric's alert state.
// Callers hold m.mu.
func (m *Monitor) updateAlertLocked(metric string, value float64, now time.Time) {
	th, ok := m.cfg.Thresholds[metric]
	if !ok {
		return
	}

	active := m.alerts[metric]

	switch {
	case value >= th.Critical:
		if active == nil {
			m.raiseLocked(metric, SeverityCritical, value, th.Critical, now)
		} else if active.Severity == SeverityWarning {
			m.escalateLocked(active, value, th.Critical, now)
		} else {
			active.Value = value
			active.lastBreach = now
		}

	case value >= th.Warning:
		if active == nil {
			m.raiseLocked(metric, SeverityWarning, value, th.Warning, now)
		} else {
			// A critical alert stays critical while still above warning.
			active.Value = value
			active.lastBreach = now
		}

	default:
		if active != nil && now.Sub(active.lastBreach) >= m.cfg.AlertCooldown {
			m.resolveLocked(active, now)
		}
	}
}

func (m *Monitor) raiseLocked(metric string, sev Severity, value, threshold float64, now time.Time) {
	alert := &Alert{
		ID:         uuid.New(),
		Metric:     metric,
		Severity:   sev,
		Value:      value,
		Threshold:  threshold,
		RaisedAt:   now,
		lastBreach: now,
	}
	m.alerts[metric] = alert

	m.log.Warn("alert raised",
		logger.String("metric", metric),
		logger.String("severity", string(sev)),
		logger.Float64("value", value),
		logger.Float64("threshold", threshold))
	m.publish(shared.EventAlertRaised, alert)
}

func (m *Monitor) escalateLocked(alert *Alert, value, threshold float64, now time.Time) {
	alert.Severity = SeverityCritical
	alert.Value = value
	alert.Threshold = threshold
	alert.EscalatedAt = &now
	alert.lastBreach = now

	m.log.Error("alert escalated to critical",
		logger.String("metric", alert.Metric),
		logger.Float64("value", value),
		logger.Float64("threshold", threshold))
	m.publish(shared.EventAlertEscalated, alert)
}

func (m *Monitor) resolveLocked(alert *Alert, now time.Time) {
	alert.ResolvedAt = &now
	delete(m.alerts, alert.Metric)

	m.history = append(m.history, alert)
	if m.cfg.MaxAlertHistory > 0 && len(m.history) > m.cfg.MaxAlertHistory {
		m.history = m.history[len(m.history)-m.cfg.MaxAlertHistory:]
	}

	m.log.Info("alert resolved",
		logger.String("metric", alert.Metric),
		logger.String("severity", string(alert.Severity)))
	m.publish(shared.EventAlertResolved, alert)
}

// publish sends an alert event without holding up the caller on failure.
func (m *Monitor) publish(t shared.EventType, alert *Alert) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(shared.NewGenericEvent(t, alert.Metric, map[string]any{
		"alert_id":  alert.ID.String(),
		"metric":    alert.Metric,
		"severity":  string(alert.Severity),
		"value":     alert.Value,
		"threshold": alert.Threshold,
	}))
}
