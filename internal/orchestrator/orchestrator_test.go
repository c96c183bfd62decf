// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/FairForge/regioncoord/internal/audit"
	"github.com/FairForge/regioncoord/internal/capacity"
	"github.com/FairForge/regioncoord/internal/disparity"
	"github.com/FairForge/regioncoord/internal/failover"
	"github.com/FairForge/regioncoord/internal/metrics"
	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/FairForge/regioncoord/internal/region"
	"github.com/FairForge/regioncoord/internal/syncsched"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedEvent string

func (f fixedEvent) CurrentEvent(time.Time) (string, bool) {
	return string(f), f != ""
}

func testCriteria(t *testing.T, required int) *failover.TriggerCriteria {
	t.Helper()
	c, err := failover.NewTriggerCriteria("default", failover.Thresholds{
		ResponseTimeMs: 1000,
		ErrorRatePct:   1,
		ThroughputPct:  85,
	}, 5*time.Minute, required)
	require.NoError(t, err)
	return c
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Criteria == nil {
		cfg.Criteria = testCriteria(t, 1)
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"us-east", "eu-west", "ap-south"}
	}
	o, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func recordScenario(t *testing.T, o *Orchestrator) {
	t.Helper()
	now := time.Now()
	require.NoError(t, o.RecordSample("us-east", region.PerformanceSample{ResponseTimeMs: 200, ErrorRatePct: 0.1, Throughput: 95, CapturedAt: now}))
	require.NoError(t, o.RecordSample("eu-west", region.PerformanceSample{ResponseTimeMs: 1800, ErrorRatePct: 0.2, Throughput: 90, CapturedAt: now}))
	require.NoError(t, o.RecordSample("ap-south", region.PerformanceSample{ResponseTimeMs: 150, ErrorRatePct: 0.05, Throughput: 98, CapturedAt: now}))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Regions: []string{"us-east"}})
	assert.Error(t, err)

	_, err = New(Config{Criteria: testCriteria(t, 1)})
	assert.ErrorIs(t, err, region.ErrNoRegions)

	bad := testCriteria(t, 1)
	bad.EvaluationWindow = 0
	_, err = New(Config{Regions: []string{"us-east"}, Criteria: bad})
	assert.ErrorIs(t, err, failover.ErrInvalidWindow)

	_, err = New(Config{
		Regions:           []string{"us-east"},
		Criteria:          testCriteria(t, 1),
		RevenueProtection: capacity.RevenueProtection{EmergencyCapacityPercent: -1},
	})
	assert.ErrorIs(t, err, capacity.ErrInvalidProtection)
}

func TestOrchestrator_EvaluateFailover(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	recordScenario(t, o)

	var triggered []string
	for _, r := range o.Regions() {
		if o.EvaluateFailover(nil, *r.Sample, opt.None[string]()) {
			triggered = append(triggered, r.Name)
		}
	}
	assert.Equal(t, []string{"eu-west"}, triggered)

	lenient := testCriteria(t, 1)
	lenient.Thresholds.ResponseTimeMs = 5000
	r, _ := o.Region("eu-west")
	assert.False(t, o.EvaluateFailover(lenient, *r.Sample, opt.None[string]()))
}

func TestOrchestrator_EvaluateAllWithoutAutoFailover(t *testing.T) {
	sink := audit.NewMemorySink(0)
	m := metrics.New()
	o := newTestOrchestrator(t, Config{Sink: sink, Metrics: m})
	recordScenario(t, o)

	decisions := o.EvaluateAll(context.Background())
	require.Len(t, decisions, 3)
	for _, d := range decisions {
		assert.Equal(t, d.Region == "eu-west", d.Triggered, d.Region)
	}
	assert.Empty(t, o.Failovers())

	entries := sink.ByKind(audit.KindTriggerDecision)
	require.Len(t, entries, 1)
	assert.Equal(t, "eu-west", entries[0].SubjectID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggerEvaluations.WithLabelValues("eu-west", metrics.OutcomeTriggered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggerEvaluations.WithLabelValues("us-east", metrics.OutcomeHealthy)))
}

func TestOrchestrator_AutoFailover(t *testing.T) {
	sink := audit.NewMemorySink(0)
	m := metrics.New()
	o := newTestOrchestrator(t, Config{
		Criteria:     testCriteria(t, 2),
		AutoFailover: true,
		Sink:         sink,
		Metrics:      m,
		Events:       fixedEvent("diwali"),
	})
	recordScenario(t, o)
	require.NoError(t, o.UpdatePerformanceScore("us-east", 70))
	require.NoError(t, o.UpdatePerformanceScore("ap-south", 90))
	require.NoError(t, o.SetLoad("diwali", "eu-west", 400))
	require.NoError(t, o.SetLoad("diwali", "ap-south", 100))

	ctx := context.Background()
	d, rec, err := o.EvaluateRegion(ctx, "eu-west", opt.None[string]())
	require.NoError(t, err)
	assert.True(t, d.Breached)
	assert.False(t, d.Triggered, "first breach is debounced")
	assert.Nil(t, rec)

	r, _ := o.Region("eu-west")
	later := *r.Sample
	later.CapturedAt = later.CapturedAt.Add(time.Minute)
	require.NoError(t, o.RecordSample("eu-west", later))

	d, rec, err = o.EvaluateRegion(ctx, "eu-west", opt.None[string]())
	require.NoError(t, err)
	assert.True(t, d.Triggered)
	require.NotNil(t, rec)
	assert.Equal(t, "ap-south", rec.Target(), "highest score wins")

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	v, err := o.WaitFailover(waitCtx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, failover.StatusCompleted, v.Status)
	assert.Equal(t, []string{"diwali"}, v.AffectedEvents)
	assert.Equal(t, int64(400), v.Migrations["load:diwali"])

	dist := o.LoadDistribution("diwali")
	assert.Equal(t, 0.0, dist["eu-west"])
	assert.Equal(t, 500.0, dist["ap-south"])

	got, ok := o.Failover(rec.ID())
	require.True(t, ok)
	assert.Equal(t, failover.StatusCompleted, got.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failovers.WithLabelValues("completed")))

	t.Run("rollback restores load", func(t *testing.T) {
		v, err := o.RollbackFailover(ctx, rec.ID(), "eu-west recovered")
		require.NoError(t, err)
		assert.Equal(t, failover.StatusRolledBack, v.Status)

		dist := o.LoadDistribution("diwali")
		assert.Equal(t, 400.0, dist["eu-west"])
		assert.Equal(t, 100.0, dist["ap-south"])
	})

	records := sink.ByKind(audit.KindFailoverRecord)
	require.Len(t, records, 3)
	assert.Equal(t, string(failover.StatusRolledBack), records[2].Status)
}

func TestOrchestrator_SelectTarget(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	_, err := o.SelectTarget("eu-west", opt.None[string]())
	assert.ErrorIs(t, err, ErrNoHealthyTarget, "regions without samples are not candidates")

	recordScenario(t, o)
	require.NoError(t, o.UpdatePerformanceScore("us-east", 80))
	require.NoError(t, o.UpdatePerformanceScore("ap-south", 80))
	require.NoError(t, o.UpdatePerformanceScore("eu-west", 99))

	target, err := o.SelectTarget("us-east", opt.None[string]())
	require.NoError(t, err)
	assert.Equal(t, "ap-south", target, "breaching eu-west is skipped despite its score")
}

func TestOrchestrator_ExecuteFailover(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	_, err := o.ExecuteFailover(context.Background(), "eu-west", "sa-east", "manual")
	assert.ErrorIs(t, err, region.ErrRegionNotFound)

	_, err = o.ExecuteFailover(context.Background(), "eu-west", "eu-west", "manual")
	assert.ErrorIs(t, err, failover.ErrSameRegion)

	rec, err := o.ExecuteFailover(context.Background(), "eu-west", "us-east", "manual")
	require.NoError(t, err)
	assert.Empty(t, rec.View().AffectedEvents)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := o.WaitFailover(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, failover.StatusCompleted, v.Status)
	assert.Len(t, o.Failovers(), 1)
	assert.ErrorIs(t, o.CancelFailover(rec.ID()), failover.ErrNotRunning)
}

func TestOrchestrator_Regions(t *testing.T) {
	sink := audit.NewMemorySink(0)
	m := metrics.New()
	var changes []string
	o := newTestOrchestrator(t, Config{
		Regions: []string{"us-east"},
		Sink:    sink,
		Metrics: m,
		OnRegionChange: func(name string, added bool) {
			if added {
				changes = append(changes, "+"+name)
			} else {
				changes = append(changes, "-"+name)
			}
		},
	})
	ctx := context.Background()

	assert.ErrorIs(t, o.RemoveRegion(ctx, "us-east"), region.ErrLastRegion)
	assert.Len(t, o.Regions(), 1)

	require.NoError(t, o.AddRegion(ctx, "eu-west"))
	assert.ErrorIs(t, o.AddRegion(ctx, "eu-west"), region.ErrDuplicateRegion)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Regions))

	require.NoError(t, o.RemoveRegion(ctx, "us-east"))
	assert.ErrorIs(t, o.RemoveRegion(ctx, "eu-west"), region.ErrLastRegion)
	assert.ErrorIs(t, o.RemoveRegion(ctx, "us-east"), region.ErrRegionNotFound)

	assert.Equal(t, []string{"+eu-west", "-us-east"}, changes)
	entries := sink.ByKind(audit.KindRegionChange)
	require.Len(t, entries, 2)
	assert.Equal(t, "added", entries[0].Status)
	assert.Equal(t, "removed", entries[1].Status)
}

func TestOrchestrator_AnalyzeDisparities(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	_, err := o.AnalyzeDisparities(nil)
	assert.ErrorIs(t, err, disparity.ErrTooFewRegions)

	recordScenario(t, o)
	reports, err := o.AnalyzeDisparities(nil)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	levels := map[string]disparity.Level{}
	for _, r := range reports {
		levels[r.RegionA+"/"+r.RegionB] = r.Level
	}
	assert.Equal(t, disparity.LevelHigh, levels["ap-south/eu-west"])
	assert.Equal(t, disparity.LevelHigh, levels["eu-west/us-east"])
	assert.Equal(t, disparity.LevelLow, levels["ap-south/us-east"])

	subset, err := o.AnalyzeDisparities([]string{"us-east", "ap-south"})
	require.NoError(t, err)
	require.Len(t, subset, 1)

	_, err = o.AnalyzeDisparities([]string{"us-east", "sa-east"})
	assert.ErrorIs(t, err, region.ErrRegionNotFound)

	require.NoError(t, o.AddRegion(context.Background(), "sa-east"))
	_, err = o.AnalyzeDisparities([]string{"us-east", "sa-east"})
	assert.ErrorIs(t, err, ErrNoSample)
}

func TestOrchestrator_RecommendCapacity(t *testing.T) {
	profiles := capacity.ProfileSourceFunc(func(name string) (float64, time.Duration, bool) {
		if name == "diwali" {
			return 5.0, 72 * time.Hour, true
		}
		return 0, 0, false
	})
	m := metrics.New()
	o := newTestOrchestrator(t, Config{Profiles: profiles, Events: fixedEvent("diwali"), Metrics: m})

	rec, err := o.RecommendCapacity(capacity.LoadSample{Region: "ap-south", ActiveConnections: 1000}, opt.None[string]())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rec.RecommendedCapacity, "calendar event applies when none is given")
	assert.True(t, rec.ScalingRequired)
	assert.Equal(t, 5000.0, testutil.ToFloat64(m.CapacityRecommend.WithLabelValues("ap-south")))

	rec, err = o.RecommendCapacity(capacity.LoadSample{ActiveConnections: 1000}, opt.Some("eid"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.RecommendedCapacity)

	_, err = o.RecommendCapacity(capacity.LoadSample{ActiveConnections: -1}, opt.None[string]())
	assert.ErrorIs(t, err, capacity.ErrNegativeLoad)
}

func TestOrchestrator_EvaluateRegionErrors(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	_, _, err := o.EvaluateRegion(context.Background(), "sa-east", opt.None[string]())
	assert.ErrorIs(t, err, region.ErrRegionNotFound)
	_, _, err = o.EvaluateRegion(context.Background(), "us-east", opt.None[string]())
	assert.ErrorIs(t, err, ErrNoSample)
}

func TestOrchestrator_Criteria(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	c := o.Criteria()
	c.Thresholds.ResponseTimeMs = 1
	assert.Equal(t, 1000.0, o.Criteria().Thresholds.ResponseTimeMs, "returned criteria are a copy")

	bad := o.Criteria()
	bad.RequiredConsecutiveFailures = 0
	assert.ErrorIs(t, o.SetCriteria(bad), failover.ErrInvalidRequired)
	assert.Error(t, o.SetCriteria(nil))

	require.NoError(t, o.SetCriteria(c))
	assert.Equal(t, 1.0, o.Criteria().Thresholds.ResponseTimeMs)

	assert.False(t, o.AutoFailover())
	o.SetAutoFailover(true)
	assert.True(t, o.AutoFailover())
}

func TestOrchestrator_Sync(t *testing.T) {
	m := metrics.New()
	o := newTestOrchestrator(t, Config{Metrics: m})

	p, err := syncsched.NewPolicy("events-policy", "events", syncsched.SyncNearRealTime, syncsched.PriorityHigh, time.Minute)
	require.NoError(t, err)
	require.NoError(t, o.SyncScheduler().Register("events", p))

	r, err := o.SyncScheduler().Begin("events", "us-east", "eu-west")
	require.NoError(t, err)
	require.NoError(t, r.AddRecords("events", 12))

	status, err := o.FinishSync(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, syncsched.StatusSuccess, status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncResults.WithLabelValues("events", "success")))
}

func TestLoadShiftMigrator(t *testing.T) {
	regions, err := region.NewCoordinator(region.Config{}, "us-east", "eu-west")
	require.NoError(t, err)
	require.NoError(t, regions.SetLoad("eid", "eu-west", 250))

	m := NewLoadShiftMigrator(regions)
	rec, err := failover.NewRecord("eu-west", "us-east", "test")
	require.NoError(t, err)
	require.NoError(t, rec.MarkInProgress())

	require.NoError(t, m.Migrate(context.Background(), rec))
	assert.Equal(t, int64(250), rec.View().Migrations["load:eid"])
	assert.Equal(t, 250.0, regions.GetLoadDistribution("eid")["us-east"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Migrate(ctx, rec), context.Canceled)

	require.NoError(t, m.Revert(context.Background(), rec))
	assert.Equal(t, 250.0, regions.GetLoadDistribution("eid")["eu-west"])
	assert.Equal(t, 0.0, regions.GetLoadDistribution("eid")["us-east"])
}

func TestOrchestrator_RollbackTwiceLeavesLoad(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	require.NoError(t, o.SetLoad("fest", "eu-west", 100))
	require.NoError(t, o.SetLoad("fest", "us-east", 50))

	ctx := context.Background()
	rec, err := o.ExecuteFailover(ctx, "eu-west", "us-east", "manual")
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = o.WaitFailover(waitCtx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, 150.0, o.LoadDistribution("fest")["us-east"])

	_, err = o.RollbackFailover(ctx, rec.ID(), "recovered")
	require.NoError(t, err)
	want := map[string]float64{"eu-west": 100, "us-east": 50, "ap-south": 0}
	assert.Equal(t, want, o.LoadDistribution("fest"))

	_, err = o.RollbackFailover(ctx, rec.ID(), "recovered")
	assert.ErrorIs(t, err, failover.ErrInvalidTransition)
	assert.Equal(t, want, o.LoadDistribution("fest"), "a rejected rollback moves nothing")
}

func TestLoadShiftMigrator_FractionalLoad(t *testing.T) {
	regions, err := region.NewCoordinator(region.Config{}, "us-east", "eu-west", "ap-south")
	require.NoError(t, err)
	require.NoError(t, regions.SetLoad("eid", "eu-west", 0.4))
	require.NoError(t, regions.SetLoad("eid", "us-east", 2))

	m := NewLoadShiftMigrator(regions)
	rec, err := failover.NewRecord("eu-west", "us-east", "test")
	require.NoError(t, err)
	require.NoError(t, rec.MarkInProgress())
	require.NoError(t, m.Migrate(context.Background(), rec))
	assert.Equal(t, int64(0), rec.View().Migrations["load:eid"])

	require.NoError(t, m.Revert(context.Background(), rec))
	dist := regions.GetLoadDistribution("eid")
	assert.InDelta(t, 0.4, dist["eu-west"], 1e-9)
	assert.InDelta(t, 2.0, dist["us-east"], 1e-9)
}

func TestLoadShiftMigrator_RevertWithoutPrimary(t *testing.T) {
	regions, err := region.NewCoordinator(region.Config{}, "us-east", "eu-west", "ap-south")
	require.NoError(t, err)
	require.NoError(t, regions.SetLoad("eid", "eu-west", 30))

	m := NewLoadShiftMigrator(regions)
	rec, err := failover.NewRecord("eu-west", "us-east", "test")
	require.NoError(t, err)
	require.NoError(t, rec.MarkInProgress())
	require.NoError(t, m.Migrate(context.Background(), rec))

	require.NoError(t, regions.RemoveRegion("eu-west"))
	assert.ErrorIs(t, m.Revert(context.Background(), rec), region.ErrRegionNotFound)
	assert.Equal(t, 30.0, regions.GetLoadDistribution("eid")["us-east"], "target keeps its load")
}
