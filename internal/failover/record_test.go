// internal/failover/record_test.go
package failover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestNewRecord_Validation(t *testing.T) {
	_, err := NewRecord("", "eu-west", "x")
	assert.ErrorIs(t, err, ErrEmptyRegion)
	_, err = NewRecord("us-east", "  ", "x")
	assert.ErrorIs(t, err, ErrEmptyRegion)
	_, err = NewRecord("us-east", "us-east", "x")
	assert.ErrorIs(t, err, ErrSameRegion)

	r, err := NewRecord("us-east", "eu-west", "latency")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, r.Status())
	assert.NotEmpty(t, r.ID())
	assert.Zero(t, r.Duration())
}

func TestRecord_Transitions(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		clock := &stepClock{t: time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC), step: 2 * time.Second}
		r, err := newRecord("us-east", "eu-west", "latency", clock.now)
		require.NoError(t, err)

		assert.ErrorIs(t, r.MarkCompleted(), ErrInvalidTransition)
		require.NoError(t, r.MarkInProgress())
		require.NoError(t, r.AddAffectedEvent("diwali"))
		require.NoError(t, r.AddAffectedEvent("diwali"))
		require.NoError(t, r.AddMigrationMetric("sessions", 40))
		require.NoError(t, r.AddMigrationMetric("sessions", 2))
		require.NoError(t, r.AddError("slow replica"))
		require.NoError(t, r.MarkCompleted())

		v := r.View()
		assert.Equal(t, StatusCompleted, v.Status, "logged errors do not change the outcome")
		assert.Equal(t, []string{"diwali"}, v.AffectedEvents)
		assert.Equal(t, int64(42), v.Migrations["sessions"])
		assert.Equal(t, v.CompletedAt.Sub(v.InitiatedAt), v.Duration)
		assert.Equal(t, 4*time.Second, v.Duration)
		assert.Equal(t, v.Duration, r.Duration())
	})

	t.Run("failed from initiated", func(t *testing.T) {
		r, _ := NewRecord("us-east", "eu-west", "latency")
		require.NoError(t, r.MarkFailed("target unreachable"))
		v := r.View()
		assert.Equal(t, StatusFailed, v.Status)
		require.Len(t, v.Errors, 1)
		assert.Equal(t, "target unreachable", v.Errors[0].Message)
		assert.ErrorIs(t, r.MarkInProgress(), ErrInvalidTransition)
	})

	t.Run("finished record rejects changes", func(t *testing.T) {
		r, _ := NewRecord("us-east", "eu-west", "latency")
		require.NoError(t, r.MarkInProgress())
		require.NoError(t, r.MarkCompleted())
		assert.ErrorIs(t, r.AddError("late"), ErrRecordFinished)
		assert.ErrorIs(t, r.AddMigrationMetric("x", 1), ErrRecordFinished)
		assert.ErrorIs(t, r.AddAffectedEvent("eid"), ErrRecordFinished)
		assert.ErrorIs(t, r.MarkFailed("late"), ErrInvalidTransition)
	})

	t.Run("rollback", func(t *testing.T) {
		r, _ := NewRecord("us-east", "eu-west", "latency")
		assert.ErrorIs(t, r.Rollback("too early"), ErrInvalidTransition)
		require.NoError(t, r.MarkInProgress())
		assert.ErrorIs(t, r.Rollback("too early"), ErrInvalidTransition)
		require.NoError(t, r.AddMigrationMetric("sessions", 7))
		require.NoError(t, r.MarkCompleted())
		require.NoError(t, r.Rollback("primary recovered"))

		v := r.View()
		assert.Equal(t, StatusRolledBack, v.Status)
		assert.Equal(t, int64(7), v.RevertedMigrations["sessions"])
		assert.Equal(t, int64(7), v.Migrations["sessions"])
		assert.False(t, v.RolledBackAt.IsZero())
		assert.Contains(t, v.Errors[len(v.Errors)-1].Message, "primary recovered")
		assert.ErrorIs(t, r.Rollback("again"), ErrInvalidTransition)
	})

	t.Run("validation of inputs", func(t *testing.T) {
		r, _ := NewRecord("us-east", "eu-west", "latency")
		assert.Error(t, r.AddAffectedEvent(""))
		assert.Error(t, r.AddMigrationMetric("", 1))
		assert.Error(t, r.AddMigrationMetric("x", -1))
	})
}

func TestRecord_ViewIsCopy(t *testing.T) {
	r, _ := NewRecord("us-east", "eu-west", "latency")
	require.NoError(t, r.AddMigrationMetric("sessions", 1))
	require.NoError(t, r.AddAffectedEvent("diwali"))

	v := r.View()
	v.Migrations["sessions"] = 99
	v.AffectedEvents[0] = "changed"

	again := r.View()
	assert.Equal(t, int64(1), again.Migrations["sessions"])
	assert.Equal(t, "diwali", again.AffectedEvents[0])
}
