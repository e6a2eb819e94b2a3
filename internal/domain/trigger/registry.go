package trigger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config is the declarative trigger configuration for one achievement type
// key. It is produced by the external admin/config service and read-only
// to the engine once registered.
type Config struct {
	// AchievementType is the type key the config gates (e.g. "counter").
	AchievementType string `json:"achievement_type"`

	// TriggerEvents lists the event names this config reacts to. An empty
	// list means the config applies to every event.
	TriggerEvents []string `json:"trigger_events,omitempty"`

	// Conditions is the ordered condition list evaluated as a gate before
	// type-specific progress evaluation.
	Conditions []Condition `json:"conditions"`

	// LogicOperator combines Conditions (AND requires all, OR any).
	LogicOperator LogicOperator `json:"logic_operator"`

	// Dependencies lists achievement IDs the user must already hold.
	Dependencies []int64 `json:"dependencies,omitempty"`

	// Priority orders configs when several react to the same event.
	// Higher runs first. Must be >= 0.
	Priority int `json:"priority"`
}

// Validate checks the config and validates/normalizes every condition.
func (c *Config) Validate() error {
	if c.AchievementType == "" {
		return shared.WrapError("trigger", "Validate", shared.ErrEmptyValue,
			"config requires an achievement_type", nil)
	}
	if c.Priority < 0 {
		return shared.WrapError("trigger", "Validate", shared.ErrNegativeValue,
			"config priority cannot be negative", nil)
	}
	if !c.LogicOperator.Valid() {
		return shared.WrapError("trigger", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("invalid logic operator %q", c.LogicOperator), nil)
	}
	if err := ValidateConditions(c.Conditions); err != nil {
		return fmt.Errorf("config %q: %w", c.AchievementType, err)
	}
	for _, dep := range c.Dependencies {
		if dep <= 0 {
			return shared.WrapError("trigger", "Validate", shared.ErrInvalidID,
				fmt.Sprintf("config %q: invalid dependency id %d", c.AchievementType, dep), nil)
		}
	}
	return nil
}

// AppliesTo reports whether the config reacts to the given event name.
func (c *Config) AppliesTo(event string) bool {
	if len(c.TriggerEvents) == 0 {
		return true
	}
	for _, e := range c.TriggerEvents {
		if e == event {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// Registry holds validated trigger configs, keyed by achievement type, and
// answers "which configs react to this event" lookups for the batch
// processor. Safe for concurrent use; registration normally happens once
// at startup.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]*Config)}
}

// Register validates and stores a config. A config for the same
// achievement type replaces the previous one.
func (r *Registry) Register(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.AchievementType] = &cfg
	return nil
}

// ConfigFor returns the config registered for an achievement type,
// or nil when none exists.
func (r *Registry) ConfigFor(achievementType string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configs[achievementType]
}

// ForEvent returns all configs reacting to the given event, ordered by
// priority (highest first, ties broken by achievement type for
// determinism).
func (r *Registry) ForEvent(event string) []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		if cfg.AppliesTo(event) {
			matched = append(matched, cfg)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].AchievementType < matched[j].AchievementType
	})

	return matched
}

// Types returns the achievement type keys with a registered config.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of registered configs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}
