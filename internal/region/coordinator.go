// internal/region/coordinator.go
package region

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Region is one participating deployment and its latest known performance.
type Region struct {
	Name      string             `json:"name"`
	Sample    *PerformanceSample `json:"sample,omitempty"`
	Score     float64            `json:"score"`
	AddedAt   time.Time          `json:"added_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// snapshot is never modified after it is published.
type snapshot struct {
	regions map[string]Region
	load    map[string]map[string]float64 // event type -> region -> load
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		regions: make(map[string]Region, len(s.regions)),
		load:    make(map[string]map[string]float64, len(s.load)),
	}
	for k, v := range s.regions {
		next.regions[k] = v
	}
	for event, dist := range s.load {
		cp := make(map[string]float64, len(dist))
		for k, v := range dist {
			cp[k] = v
		}
		next.load[event] = cp
	}
	return next
}

// Config configures a coordinator.
type Config struct {
	// ScoreSmoothing is the EWMA factor applied when a sample updates the
	// rolling score. Zero disables automatic scoring.
	ScoreSmoothing float64
	ScoreWeights   ScoreWeights
	Logger         *zap.Logger
	Now            func() time.Time
}

// Coordinator owns the live region set. Reads see an immutable snapshot;
// writers copy, modify and swap it under mu.
type Coordinator struct {
	mu     sync.Mutex
	state  atomic.Pointer[snapshot]
	scorer *Scorer
	alpha  float64
	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator creates a coordinator seeded with the given regions.
// It fails if no region survives validation.
func NewCoordinator(cfg Config, initial ...string) (*Coordinator, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Coordinator{
		scorer: NewScorer(cfg.ScoreWeights),
		alpha:  cfg.ScoreSmoothing,
		logger: cfg.Logger,
		now:    cfg.Now,
	}

	s := &snapshot{
		regions: make(map[string]Region),
		load:    make(map[string]map[string]float64),
	}
	now := c.now()
	for _, name := range initial {
		name = normalize(name)
		if name == "" {
			return nil, ErrEmptyName
		}
		if _, ok := s.regions[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRegion, name)
		}
		s.regions[name] = Region{Name: name, AddedAt: now, UpdatedAt: now}
	}
	if len(s.regions) == 0 {
		return nil, ErrNoRegions
	}

	c.state.Store(s)
	return c, nil
}

// AddRegion registers a new region.
func (c *Coordinator) AddRegion(name string) error {
	name = normalize(name)
	if name == "" {
		return ErrEmptyName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if _, ok := cur.regions[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegion, name)
	}

	next := cur.clone()
	now := c.now()
	next.regions[name] = Region{Name: name, AddedAt: now, UpdatedAt: now}
	for _, dist := range next.load {
		dist[name] = 0
	}
	c.state.Store(next)

	c.logger.Info("region added", zap.String("region", name), zap.Int("regions", len(next.regions)))
	return nil
}

// RemoveRegion drops a region. Removing the last region is always rejected.
func (c *Coordinator) RemoveRegion(name string) error {
	name = normalize(name)
	if name == "" {
		return ErrEmptyName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if _, ok := cur.regions[name]; !ok {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, name)
	}
	if len(cur.regions) <= 1 {
		return fmt.Errorf("%w: %s", ErrLastRegion, name)
	}

	next := cur.clone()
	delete(next.regions, name)
	for _, dist := range next.load {
		delete(dist, name)
	}
	c.state.Store(next)

	c.logger.Info("region removed", zap.String("region", name), zap.Int("regions", len(next.regions)))
	return nil
}

// RecordSample replaces the region's latest sample. Samples older than the
// one already held are ignored so that late deliveries cannot roll state back.
func (c *Coordinator) RecordSample(name string, sample PerformanceSample) error {
	name = normalize(name)
	if name == "" {
		return ErrEmptyName
	}
	if err := sample.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	r, ok := cur.regions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, name)
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = c.now()
	}
	if r.Sample != nil && sample.CapturedAt.Before(r.Sample.CapturedAt) {
		c.logger.Debug("stale sample ignored",
			zap.String("region", name),
			zap.Time("captured_at", sample.CapturedAt),
			zap.Time("latest", r.Sample.CapturedAt))
		return nil
	}

	first := r.Sample == nil
	s := sample
	r.Sample = &s
	r.UpdatedAt = c.now()
	if c.alpha > 0 {
		fresh := c.scorer.Score(s)
		if first {
			r.Score = fresh
		} else {
			r.Score = Smooth(r.Score, fresh, c.alpha)
		}
	}

	next := cur.clone()
	next.regions[name] = r
	c.state.Store(next)
	return nil
}

// UpdatePerformanceScore sets the rolling score explicitly.
func (c *Coordinator) UpdatePerformanceScore(name string, score float64) error {
	name = normalize(name)
	if name == "" {
		return ErrEmptyName
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return &ValidationError{Field: "score", Reason: fmt.Sprintf("must be a finite number >= 0, got %g", score)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	r, ok := cur.regions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, name)
	}
	if r.Score == score {
		return nil
	}

	r.Score = score
	r.UpdatedAt = c.now()
	next := cur.clone()
	next.regions[name] = r
	c.state.Store(next)
	return nil
}

// GetLoadDistribution returns the per-region load for an event type,
// creating a zero-initialized distribution the first time it is asked for.
func (c *Coordinator) GetLoadDistribution(eventType string) map[string]float64 {
	if dist, ok := c.state.Load().load[eventType]; ok {
		return copyDist(dist)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if dist, ok := cur.load[eventType]; ok {
		return copyDist(dist)
	}

	next := cur.clone()
	dist := make(map[string]float64, len(next.regions))
	for name := range next.regions {
		dist[name] = 0
	}
	next.load[eventType] = dist
	c.state.Store(next)
	return copyDist(dist)
}

// SetLoad records the load a region carries for an event type.
func (c *Coordinator) SetLoad(eventType, name string, load float64) error {
	name = normalize(name)
	if name == "" {
		return ErrEmptyName
	}
	if math.IsNaN(load) || load < 0 {
		return &ValidationError{Field: "load", Reason: fmt.Sprintf("must be >= 0, got %g", load)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if _, ok := cur.regions[name]; !ok {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, name)
	}

	next := cur.clone()
	dist, ok := next.load[eventType]
	if !ok {
		dist = make(map[string]float64, len(next.regions))
		for r := range next.regions {
			dist[r] = 0
		}
		next.load[eventType] = dist
	}
	dist[name] = load
	c.state.Store(next)
	return nil
}

// ShiftLoad moves all of from's load for an event type onto to and returns
// the amount moved. Both regions must exist.
func (c *Coordinator) ShiftLoad(eventType, from, to string) (float64, error) {
	return c.moveLoad(eventType, from, to, math.Inf(1))
}

// MoveLoad moves up to amount of from's load for an event type onto to in one
// step and returns the amount moved. Both regions must exist.
func (c *Coordinator) MoveLoad(eventType, from, to string, amount float64) (float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be finite and >= 0, got %g", amount)}
	}
	return c.moveLoad(eventType, from, to, amount)
}

func (c *Coordinator) moveLoad(eventType, from, to string, limit float64) (float64, error) {
	from, to = normalize(from), normalize(to)
	if from == "" || to == "" {
		return 0, ErrEmptyName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	for _, name := range []string{from, to} {
		if _, ok := cur.regions[name]; !ok {
			return 0, fmt.Errorf("%w: %s", ErrRegionNotFound, name)
		}
	}
	dist, ok := cur.load[eventType]
	if !ok || dist[from] == 0 || from == to || limit == 0 {
		return 0, nil
	}

	next := cur.clone()
	moved := math.Min(next.load[eventType][from], limit)
	next.load[eventType][to] += moved
	next.load[eventType][from] -= moved
	c.state.Store(next)

	c.logger.Info("load shifted",
		zap.String("event_type", eventType),
		zap.String("from", from),
		zap.String("to", to),
		zap.Float64("load", moved))
	return moved, nil
}

// EventTypes lists the event types that have a load distribution.
func (c *Coordinator) EventTypes() []string {
	s := c.state.Load()
	out := make([]string, 0, len(s.load))
	for event := range s.load {
		out = append(out, event)
	}
	sort.Strings(out)
	return out
}

// Region returns a single region.
func (c *Coordinator) Region(name string) (Region, bool) {
	r, ok := c.state.Load().regions[normalize(name)]
	return r, ok
}

// Regions returns all regions sorted by name.
func (c *Coordinator) Regions() []Region {
	s := c.state.Load()
	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted region names.
func (c *Coordinator) Names() []string {
	regions := c.Regions()
	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.Name
	}
	return names
}

// Samples returns the latest sample of every region that has one.
func (c *Coordinator) Samples() map[string]PerformanceSample {
	s := c.state.Load()
	out := make(map[string]PerformanceSample, len(s.regions))
	for name, r := range s.regions {
		if r.Sample != nil {
			out[name] = *r.Sample
		}
	}
	return out
}

// Len returns the number of regions.
func (c *Coordinator) Len() int {
	return len(c.state.Load().regions)
}

func normalize(name string) string {
	return strings.TrimSpace(name)
}

func copyDist(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
