// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/FairForge/regioncoord/internal/audit"
	"github.com/FairForge/regioncoord/internal/capacity"
	"github.com/FairForge/regioncoord/internal/disparity"
	"github.com/FairForge/regioncoord/internal/failover"
	"github.com/FairForge/regioncoord/internal/metrics"
	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/FairForge/regioncoord/internal/region"
	"github.com/FairForge/regioncoord/internal/syncsched"
	"go.uber.org/zap"
)

var (
	ErrNoSample        = errors.New("orchestrator: region has no sample yet")
	ErrNoHealthyTarget = errors.New("orchestrator: no healthy failover target")
)

// EventSource reports the named event currently in progress, if any.
// calendar.Calendar satisfies it.
type EventSource interface {
	CurrentEvent(now time.Time) (string, bool)
}

// Config wires an Orchestrator.
type Config struct {
	Regions             []string
	Region              region.Config
	Criteria            *failover.TriggerCriteria
	AutoFailover        bool
	Migrator            failover.Migrator
	MaxFailoverDuration time.Duration
	MaxFailoverRecords  int
	DisparityThresholds disparity.Thresholds
	Profiles            capacity.ProfileSource
	RevenueProtection   capacity.RevenueProtection
	Events              EventSource
	Sink                audit.Sink
	Metrics             *metrics.Metrics
	Logger              *zap.Logger
	// OnRegionChange is called after a region is added or removed.
	OnRegionChange func(name string, added bool)
}

// Orchestrator is the caller-facing facade over region state, disparity
// analysis, failover decisions and execution, capacity planning and sync
// scheduling.
type Orchestrator struct {
	regions   *region.Coordinator
	analyzer  *disparity.Analyzer
	engine    *failover.Engine
	executor  *failover.Executor
	planner   *capacity.Planner
	scheduler *syncsched.Scheduler
	criteria  atomic.Pointer[failover.TriggerCriteria]
	auto      atomic.Bool
	cfg       Config
	sink      audit.Sink
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// New builds an orchestrator. It fails when the initial region set or the
// criteria are invalid.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sink == nil {
		cfg.Sink = audit.Discard
	}
	if cfg.Criteria == nil {
		return nil, errors.New("orchestrator: trigger criteria are required")
	}
	if err := cfg.Criteria.Validate(); err != nil {
		return nil, err
	}

	rcfg := cfg.Region
	if rcfg.Logger == nil {
		rcfg.Logger = cfg.Logger.Named("region")
	}
	regions, err := region.NewCoordinator(rcfg, cfg.Regions...)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	planner, err := capacity.NewPlanner(cfg.Profiles, cfg.RevenueProtection, cfg.Logger.Named("capacity"))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		regions:   regions,
		analyzer:  disparity.NewAnalyzer(cfg.DisparityThresholds, cfg.Logger.Named("disparity")),
		engine:    failover.NewEngine(cfg.Logger.Named("trigger")),
		planner:   planner,
		scheduler: syncsched.NewScheduler(cfg.Sink, cfg.Logger.Named("sync")),
		cfg:       cfg,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	o.criteria.Store(cfg.Criteria.Clone())
	o.auto.Store(cfg.AutoFailover)

	migrator := cfg.Migrator
	if migrator == nil {
		migrator = NewLoadShiftMigrator(regions)
	}
	o.executor, err = failover.NewExecutor(migrator, failover.ExecutorConfig{
		MaxDuration: cfg.MaxFailoverDuration,
		MaxRecords:  cfg.MaxFailoverRecords,
		Sink:        cfg.Sink,
		Logger:      cfg.Logger.Named("failover"),
		OnFinish:    o.failoverFinished,
	})
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.SetRegionCount(regions.Len())
	}
	return o, nil
}

func (o *Orchestrator) failoverFinished(v failover.RecordView) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveFailover(string(v.Status), v.Duration)
	o.metrics.SetActiveFailovers(len(o.executor.Active()))
}

// Criteria returns a copy of the active trigger criteria.
func (o *Orchestrator) Criteria() *failover.TriggerCriteria {
	return o.criteria.Load().Clone()
}

// SetCriteria validates and installs new trigger criteria. Debounce streaks
// are kept.
func (o *Orchestrator) SetCriteria(c *failover.TriggerCriteria) error {
	if c == nil {
		return errors.New("orchestrator: trigger criteria are required")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	o.criteria.Store(c.Clone())
	o.logger.Info("trigger criteria updated", zap.String("name", c.Name), zap.Bool("enabled", c.Enabled))
	return nil
}

// SetAutoFailover toggles automatic failover execution.
func (o *Orchestrator) SetAutoFailover(enabled bool) {
	o.auto.Store(enabled)
}

// AutoFailover reports whether triggered regions fail over automatically.
func (o *Orchestrator) AutoFailover() bool {
	return o.auto.Load()
}

// CurrentEvent returns the event in progress according to the calendar.
func (o *Orchestrator) CurrentEvent() opt.Option[string] {
	if o.cfg.Events == nil {
		return opt.None[string]()
	}
	if name, ok := o.cfg.Events.CurrentEvent(o.now()); ok {
		return opt.Some(name)
	}
	return opt.None[string]()
}

func (o *Orchestrator) resolveEvent(event opt.Option[string]) opt.Option[string] {
	if event.IsSome() {
		return event
	}
	return o.CurrentEvent()
}

// AddRegion registers a region.
func (o *Orchestrator) AddRegion(ctx context.Context, name string) error {
	if err := o.regions.AddRegion(name); err != nil {
		return err
	}
	o.regionChanged(ctx, name, true)
	return nil
}

// RemoveRegion unregisters a region. Removing the last region fails.
func (o *Orchestrator) RemoveRegion(ctx context.Context, name string) error {
	if err := o.regions.RemoveRegion(name); err != nil {
		return err
	}
	o.engine.Reset(name)
	if o.metrics != nil {
		o.metrics.ForgetRegion(name)
	}
	o.regionChanged(ctx, name, false)
	return nil
}

func (o *Orchestrator) regionChanged(ctx context.Context, name string, added bool) {
	status := "removed"
	if added {
		status = "added"
	}
	if o.metrics != nil {
		o.metrics.SetRegionCount(o.regions.Len())
	}
	o.publish(ctx, audit.KindRegionChange, name, status, map[string]interface{}{
		"region":  name,
		"regions": o.regions.Names(),
	})
	if o.cfg.OnRegionChange != nil {
		o.cfg.OnRegionChange(name, added)
	}
}

// RecordSample stores a region's latest sample.
func (o *Orchestrator) RecordSample(name string, s region.PerformanceSample) error {
	if err := o.regions.RecordSample(name, s); err != nil {
		return err
	}
	if o.metrics != nil {
		if r, ok := o.regions.Region(name); ok {
			o.metrics.ObserveRegion(r)
		}
	}
	return nil
}

// UpdatePerformanceScore overrides a region's score.
func (o *Orchestrator) UpdatePerformanceScore(name string, score float64) error {
	if err := o.regions.UpdatePerformanceScore(name, score); err != nil {
		return err
	}
	if o.metrics != nil {
		if r, ok := o.regions.Region(name); ok {
			o.metrics.ObserveRegion(r)
		}
	}
	return nil
}

// Regions returns every region sorted by name.
func (o *Orchestrator) Regions() []region.Region {
	return o.regions.Regions()
}

// Region returns one region.
func (o *Orchestrator) Region(name string) (region.Region, bool) {
	return o.regions.Region(name)
}

// LoadDistribution returns the per-region load for an event type.
func (o *Orchestrator) LoadDistribution(eventType string) map[string]float64 {
	return o.regions.GetLoadDistribution(eventType)
}

// SetLoad records a region's load for an event type.
func (o *Orchestrator) SetLoad(eventType, name string, load float64) error {
	return o.regions.SetLoad(eventType, name, load)
}

// EvaluateFailover is the stateless trigger check. A nil criteria uses the
// active criteria.
func (o *Orchestrator) EvaluateFailover(c *failover.TriggerCriteria, s region.PerformanceSample, event opt.Option[string]) bool {
	if c == nil {
		c = o.criteria.Load()
	}
	return o.engine.ShouldTrigger(c, s, event)
}

// EvaluateRegion runs a debounced evaluation against the region's latest
// sample. With no event given, the calendar's current event applies. When
// the region triggers and automatic failover is on, a failover to the best
// healthy peer is started and returned.
func (o *Orchestrator) EvaluateRegion(ctx context.Context, name string, event opt.Option[string]) (failover.Decision, *failover.Record, error) {
	r, ok := o.regions.Region(name)
	if !ok {
		return failover.Decision{}, nil, fmt.Errorf("%w: %s", region.ErrRegionNotFound, name)
	}
	if r.Sample == nil {
		return failover.Decision{}, nil, fmt.Errorf("%w: %s", ErrNoSample, r.Name)
	}

	event = o.resolveEvent(event)
	c := o.criteria.Load()
	d := o.engine.Evaluate(r.Name, c, *r.Sample, event)
	o.observeDecision(d)
	if !d.Triggered {
		return d, nil, nil
	}

	o.publish(ctx, audit.KindTriggerDecision, r.Name, "triggered", d)
	if !o.auto.Load() || o.executor.Busy(r.Name) {
		return d, nil, nil
	}

	target, err := o.SelectTarget(r.Name, event)
	if err != nil {
		o.logger.Error("failover triggered without a target", zap.String("region", r.Name), zap.Error(err))
		return d, nil, err
	}
	rec, err := o.ExecuteFailover(ctx, r.Name, target, d.Reason)
	if err != nil {
		return d, nil, err
	}
	o.engine.Reset(r.Name)
	return d, rec, nil
}

// EvaluateAll evaluates every region that has a sample.
func (o *Orchestrator) EvaluateAll(ctx context.Context) []failover.Decision {
	event := o.CurrentEvent()
	var out []failover.Decision
	for _, r := range o.regions.Regions() {
		if r.Sample == nil {
			continue
		}
		d, _, err := o.EvaluateRegion(ctx, r.Name, event)
		if err != nil && !errors.Is(err, ErrNoHealthyTarget) && !errors.Is(err, failover.ErrEndpointBusy) {
			o.logger.Warn("region evaluation failed", zap.String("region", r.Name), zap.Error(err))
		}
		if d.Region != "" {
			out = append(out, d)
		}
	}
	return out
}

func (o *Orchestrator) observeDecision(d failover.Decision) {
	if o.metrics == nil {
		return
	}
	outcome := metrics.OutcomeHealthy
	switch {
	case d.Triggered:
		outcome = metrics.OutcomeTriggered
	case d.Breached:
		outcome = metrics.OutcomeBreached
	}
	o.metrics.ObserveTrigger(d.Region, outcome)
}

// SelectTarget picks the highest-scoring other region whose latest sample
// does not itself breach the active criteria. Ties go to the lexically
// smaller name; regions already in a failover are skipped.
func (o *Orchestrator) SelectTarget(primary string, event opt.Option[string]) (string, error) {
	c := o.criteria.Load()
	var candidates []region.Region
	for _, r := range o.regions.Regions() {
		if r.Name == primary || r.Sample == nil || o.executor.Busy(r.Name) {
			continue
		}
		if failover.ShouldTrigger(c, *r.Sample, event) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: primary %s", ErrNoHealthyTarget, primary)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates[0].Name, nil
}

// ExecuteFailover starts a failover and returns its live record. Both
// regions must be registered; events running now are noted as affected.
func (o *Orchestrator) ExecuteFailover(ctx context.Context, primary, target, reason string) (*failover.Record, error) {
	for _, name := range []string{primary, target} {
		if _, ok := o.regions.Region(name); !ok && name != "" {
			return nil, fmt.Errorf("%w: %s", region.ErrRegionNotFound, name)
		}
	}
	var events []string
	if name, ok := o.CurrentEvent().Get(); ok {
		events = append(events, name)
	}
	rec, err := o.executor.Execute(ctx, primary, target, reason, events...)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.SetActiveFailovers(len(o.executor.Active()))
	}
	return rec, nil
}

// Failover returns a failover record.
func (o *Orchestrator) Failover(id string) (failover.RecordView, bool) {
	rec, ok := o.executor.Get(id)
	if !ok {
		return failover.RecordView{}, false
	}
	return rec.View(), true
}

// Failovers lists retained failover records, newest first.
func (o *Orchestrator) Failovers() []failover.RecordView {
	return o.executor.Records()
}

// WaitFailover blocks until a failover finishes or ctx is done.
func (o *Orchestrator) WaitFailover(ctx context.Context, id string) (failover.RecordView, error) {
	return o.executor.Wait(ctx, id)
}

// CancelFailover stops a running failover.
func (o *Orchestrator) CancelFailover(id string) error {
	return o.executor.Cancel(id)
}

// RollbackFailover reverses a finished failover.
func (o *Orchestrator) RollbackFailover(ctx context.Context, id, reason string) (failover.RecordView, error) {
	return o.executor.Rollback(ctx, id, reason)
}

// AnalyzeDisparities compares the named regions pairwise, or every region
// with a sample when names is empty.
func (o *Orchestrator) AnalyzeDisparities(names []string) ([]disparity.Report, error) {
	all := o.regions.Samples()
	samples := all
	if len(names) > 0 {
		samples = make(map[string]region.PerformanceSample, len(names))
		for _, n := range names {
			if _, ok := o.regions.Region(n); !ok {
				return nil, fmt.Errorf("%w: %s", region.ErrRegionNotFound, n)
			}
			s, ok := all[n]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoSample, n)
			}
			samples[n] = s
		}
	}

	reports, err := o.analyzer.Analyze(samples)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		for _, r := range reports {
			o.metrics.SetDisparity(r.RegionA, r.RegionB, r.Level.Rank())
		}
	}
	return reports, nil
}

// RecommendCapacity plans capacity for a load sample. With no event given,
// the calendar's current event applies.
func (o *Orchestrator) RecommendCapacity(load capacity.LoadSample, event opt.Option[string]) (capacity.Recommendation, error) {
	rec, err := o.planner.RecommendCapacity(load, o.resolveEvent(event))
	if err != nil {
		return rec, err
	}
	if o.metrics != nil {
		o.metrics.SetCapacity(load.Region, rec.RecommendedCapacity)
	}
	return rec, nil
}

// Planner exposes the capacity planner.
func (o *Orchestrator) Planner() *capacity.Planner {
	return o.planner
}

// SyncScheduler exposes the synchronization scheduler.
func (o *Orchestrator) SyncScheduler() *syncsched.Scheduler {
	return o.scheduler
}

// FinishSync completes a sync run and counts it.
func (o *Orchestrator) FinishSync(ctx context.Context, r *syncsched.SyncResult) (syncsched.ResultStatus, error) {
	status, err := o.scheduler.Finish(ctx, r)
	if o.metrics != nil && status.Terminal() {
		o.metrics.ObserveSync(r.View().Category, string(status))
	}
	return status, err
}

// Shutdown cancels in-flight failovers and waits for their records.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.executor.Shutdown(ctx)
}

func (o *Orchestrator) publish(ctx context.Context, kind audit.Kind, subject, status string, payload interface{}) {
	entry, err := audit.NewEntry(kind, subject, status, payload)
	if err == nil {
		err = o.sink.Append(ctx, entry)
	}
	if err != nil {
		o.logger.Error("failed to publish audit entry",
			zap.String("kind", string(kind)),
			zap.String("subject", subject),
			zap.Error(err))
	}
}
