// internal/failover/engine_test.go
package failover

import (
	"testing"
	"time"

	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/FairForge/regioncoord/internal/region"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sampleAt(at time.Time, rt float64) region.PerformanceSample {
	return region.PerformanceSample{ResponseTimeMs: rt, ErrorRatePct: 0.1, Throughput: 95, CapturedAt: at}
}

func TestEngine_Debounce(t *testing.T) {
	c := defaultCriteria(t, 3)
	e := NewEngine(nil)
	base := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	none := opt.None[string]()

	d := e.Evaluate("eu-west", c, sampleAt(base, 1800), none)
	assert.True(t, d.Breached)
	assert.False(t, d.Triggered)
	assert.Equal(t, 1, d.Consecutive)
	assert.Equal(t, 3, d.Required)

	d = e.Evaluate("eu-west", c, sampleAt(base.Add(time.Minute), 1800), none)
	assert.False(t, d.Triggered)
	assert.Equal(t, 2, d.Consecutive)

	d = e.Evaluate("eu-west", c, sampleAt(base.Add(2*time.Minute), 1800), none)
	assert.True(t, d.Triggered)
	assert.Equal(t, 3, d.Consecutive)
	assert.Contains(t, d.Reason, "response time")

	d = e.Evaluate("eu-west", c, sampleAt(base.Add(3*time.Minute), 1800), none)
	assert.True(t, d.Triggered, "a sustained breach keeps triggering")
	assert.Equal(t, 3, e.Streak("eu-west"))
}

func TestEngine_HealthySampleResetsStreak(t *testing.T) {
	c := defaultCriteria(t, 2)
	e := NewEngine(nil)
	base := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	none := opt.None[string]()

	e.Evaluate("eu-west", c, sampleAt(base, 1800), none)
	d := e.Evaluate("eu-west", c, sampleAt(base.Add(time.Minute), 200), none)
	assert.False(t, d.Breached)
	assert.Equal(t, 0, e.Streak("eu-west"))

	d = e.Evaluate("eu-west", c, sampleAt(base.Add(2*time.Minute), 1800), none)
	assert.False(t, d.Triggered)
	assert.Equal(t, 1, d.Consecutive)
}

func TestEngine_WindowExpiry(t *testing.T) {
	c := defaultCriteria(t, 2)
	e := NewEngine(nil)
	base := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	none := opt.None[string]()

	e.Evaluate("eu-west", c, sampleAt(base, 1800), none)
	d := e.Evaluate("eu-west", c, sampleAt(base.Add(10*time.Minute), 1800), none)
	assert.False(t, d.Triggered, "earlier breach is outside the window")
	assert.Equal(t, 1, d.Consecutive)

	d = e.Evaluate("eu-west", c, sampleAt(base.Add(11*time.Minute), 1800), none)
	assert.True(t, d.Triggered)
}

func TestEngine_RegionsAreIndependent(t *testing.T) {
	c := defaultCriteria(t, 2)
	e := NewEngine(nil)
	base := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	none := opt.None[string]()

	e.Evaluate("eu-west", c, sampleAt(base, 1800), none)
	d := e.Evaluate("us-east", c, sampleAt(base.Add(time.Second), 1800), none)
	assert.False(t, d.Triggered)
	assert.Equal(t, 1, e.Streak("eu-west"))
	assert.Equal(t, 1, e.Streak("us-east"))

	e.Reset("eu-west")
	assert.Equal(t, 0, e.Streak("eu-west"))
}

func TestEngine_SingleRequiredMatchesShouldTrigger(t *testing.T) {
	c := defaultCriteria(t, 1)
	e := NewEngine(nil)
	for _, rt := range []float64{100, 999, 1000, 1001, 5000} {
		s := sampleAt(time.Time{}, rt)
		d := e.Evaluate("r", c, s, opt.None[string]())
		assert.Equal(t, e.ShouldTrigger(c, s, opt.None[string]()), d.Triggered, "rt=%g", rt)
	}
}

func TestEngine_DisabledCriteriaClearStreak(t *testing.T) {
	c := defaultCriteria(t, 2)
	e := NewEngine(nil)
	base := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)

	e.Evaluate("eu-west", c, sampleAt(base, 1800), opt.None[string]())
	c.Enabled = false
	d := e.Evaluate("eu-west", c, sampleAt(base.Add(time.Second), 1800), opt.None[string]())
	assert.False(t, d.Triggered)
	assert.Equal(t, 0, e.Streak("eu-west"))
}

func TestEngine_LogsTrigger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := NewEngine(zap.New(core))
	c := defaultCriteria(t, 1)

	e.Evaluate("eu-west", c, sampleAt(time.Now(), 1800), opt.None[string]())

	entries := logs.FilterMessage("failover triggered").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "eu-west", entries[0].ContextMap()["region"])
	}
}

func TestEngine_RepeatedSampleCountsOnce(t *testing.T) {
	c := defaultCriteria(t, 3)
	e := NewEngine(nil)
	base := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	none := opt.None[string]()

	s := sampleAt(base, 1800)
	for i := 0; i < 5; i++ {
		d := e.Evaluate("eu-west", c, s, none)
		assert.True(t, d.Breached)
		assert.False(t, d.Triggered, "evaluation %d of one sample", i+1)
		assert.Equal(t, 1, d.Consecutive)
	}

	d := e.Evaluate("eu-west", c, sampleAt(base.Add(-time.Second), 1800), none)
	assert.False(t, d.Triggered, "an older sample does not count")
	assert.Equal(t, 1, e.Streak("eu-west"))

	e.Evaluate("eu-west", c, sampleAt(base.Add(time.Minute), 1800), none)
	d = e.Evaluate("eu-west", c, sampleAt(base.Add(2*time.Minute), 1800), none)
	assert.True(t, d.Triggered)
	assert.Equal(t, 3, d.Consecutive)
}
