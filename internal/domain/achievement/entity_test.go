package achievement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/achievement-engine/internal/domain/trigger"
)

func TestDecodeCriteria(t *testing.T) {
	t.Run("counter", func(t *testing.T) {
		raw := []byte(`{"counter_field":"message_count","target_value":1000,"time_window":86400000000000}`)
		c, err := DecodeCriteria(TypeCounter, raw)
		require.NoError(t, err)

		counter, ok := c.(*CounterCriteria)
		require.True(t, ok)
		assert.Equal(t, "message_count", counter.CounterField)
		assert.Equal(t, 24*time.Hour, counter.TimeWindow)
		assert.Equal(t, int64(1000), c.Target())
	})

	t.Run("counter without field", func(t *testing.T) {
		_, err := DecodeCriteria(TypeCounter, []byte(`{"target_value":10}`))
		assert.Error(t, err)
	})

	t.Run("milestone threshold", func(t *testing.T) {
		c, err := DecodeCriteria(TypeMilestone, []byte(`{"metric":"level","target_value":50}`))
		require.NoError(t, err)
		assert.Equal(t, int64(50), c.Target())
	})

	t.Run("milestone sequence", func(t *testing.T) {
		raw := []byte(`{"event_sequence":true,"required_events":["joined","message_sent","boosted"]}`)
		c, err := DecodeCriteria(TypeMilestone, raw)
		require.NoError(t, err)
		assert.Equal(t, int64(3), c.Target())
	})

	t.Run("time based defaults unit", func(t *testing.T) {
		c, err := DecodeCriteria(TypeTimeBased, []byte(`{"target_value":7}`))
		require.NoError(t, err)
		assert.Equal(t, "days", c.(*TimeBasedCriteria).Unit)
	})

	t.Run("time based rejects other units", func(t *testing.T) {
		_, err := DecodeCriteria(TypeTimeBased, []byte(`{"target_value":7,"unit":"hours"}`))
		assert.Error(t, err)
	})

	t.Run("conditional", func(t *testing.T) {
		raw := []byte(`{"require_all":true,"conditions":[
			{"condition_type":"guild_role","guild_role":{"role_id":"moderator"}},
			{"condition_type":"metric_threshold","metric_threshold":{"metric":"xp","threshold":100}}
		]}`)
		c, err := DecodeCriteria(TypeConditional, raw)
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.Target())
		assert.Equal(t, trigger.LogicAnd, c.(*ConditionalCriteria).LogicOperator())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeCriteria(Type("quest"), []byte(`{}`))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeCriteria(TypeCounter, []byte(`{`))
		assert.Error(t, err)
	})
}

func TestMilestoneCriteriaModes(t *testing.T) {
	t.Run("no mode selected", func(t *testing.T) {
		c := &MilestoneCriteria{}
		assert.Error(t, c.Validate())
	})

	t.Run("two modes selected", func(t *testing.T) {
		c := &MilestoneCriteria{
			Metric:      "level",
			TargetValue: 10,
			Stages: []trigger.Condition{{
				Type:            trigger.ConditionMetricThreshold,
				MetricThreshold: &trigger.MetricThresholdParams{Metric: "level", Threshold: 5},
			}},
		}
		assert.Error(t, c.Validate())
	})

	t.Run("stage target is the stage count", func(t *testing.T) {
		stage := trigger.Condition{
			Type:            trigger.ConditionMetricThreshold,
			MetricThreshold: &trigger.MetricThresholdParams{Metric: "level", Threshold: 5},
		}
		c := &MilestoneCriteria{Stages: []trigger.Condition{stage, stage, stage}}
		require.NoError(t, c.Validate())
		assert.Equal(t, int64(3), c.Target())
	})

	t.Run("sequence mode rejects empty event names", func(t *testing.T) {
		c := &MilestoneCriteria{EventSequence: true, RequiredEvents: []string{"joined", ""}}
		assert.Error(t, c.Validate())
	})
}

func TestEncodeCriteriaRoundTrip(t *testing.T) {
	original := &CounterCriteria{
		CounterField: "voice_minutes",
		TargetValue:  600,
		TimeWindow:   7 * 24 * time.Hour,
	}
	raw, err := EncodeCriteria(original)
	require.NoError(t, err)

	decoded, err := DecodeCriteria(TypeCounter, raw)
	require.NoError(t, err)
	assert.Equal(t, original.CounterField, decoded.(*CounterCriteria).CounterField)
	assert.Equal(t, original.TimeWindow, decoded.(*CounterCriteria).TimeWindow)
}

func TestAchievementTarget(t *testing.T) {
	a := &Achievement{Criteria: &TimeBasedCriteria{TargetValue: 30, Unit: "days"}}
	assert.Equal(t, int64(30), a.Target())

	assert.Equal(t, int64(0), (&Achievement{}).Target())
}

func TestNewUserAchievement(t *testing.T) {
	ua := NewUserAchievement(42, 7)
	assert.Equal(t, int64(42), ua.UserID)
	assert.Equal(t, int64(7), ua.AchievementID)
	assert.NotEqual(t, [16]byte{}, [16]byte(ua.ID))
	assert.WithinDuration(t, time.Now().UTC(), ua.EarnedAt, time.Minute)
}
