// internal/failover/engine.go
package failover

import (
	"sync"
	"time"

	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/FairForge/regioncoord/internal/region"
	"go.uber.org/zap"
)

// ShouldTrigger reports whether the sample breaches at least one effective
// threshold. Disabled criteria never trigger. It keeps no state.
func ShouldTrigger(c *TriggerCriteria, s region.PerformanceSample, eventType opt.Option[string]) bool {
	if c == nil || !c.Enabled {
		return false
	}
	return len(c.Breaches(s, eventType)) > 0
}

// Decision is the outcome of one debounced evaluation.
type Decision struct {
	Region      string    `json:"region"`
	Triggered   bool      `json:"triggered"`
	Breached    bool      `json:"breached"`
	Consecutive int       `json:"consecutive"`
	Required    int       `json:"required"`
	Breaches    []Breach  `json:"breaches,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Engine adds debounce accounting on top of ShouldTrigger: a region only
// triggers after RequiredConsecutiveFailures breaching evaluations in a row,
// all within EvaluationWindow of the latest one.
type Engine struct {
	mu      sync.Mutex
	streaks map[string][]time.Time
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates an engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		streaks: make(map[string][]time.Time),
		logger:  logger,
		now:     time.Now,
	}
}

// ShouldTrigger is the stateless check.
func (e *Engine) ShouldTrigger(c *TriggerCriteria, s region.PerformanceSample, eventType opt.Option[string]) bool {
	return ShouldTrigger(c, s, eventType)
}

// Evaluate records one evaluation for a region. The sample's capture time is
// the evaluation time when set. A breaching sample only extends the streak
// when it was captured after the last counted breach, so evaluating the same
// measurement again does not count twice.
func (e *Engine) Evaluate(regionName string, c *TriggerCriteria, s region.PerformanceSample, eventType opt.Option[string]) Decision {
	at := s.CapturedAt
	stamped := !at.IsZero()
	if !stamped {
		at = e.now()
	}

	d := Decision{Region: regionName, EvaluatedAt: at}
	if c == nil || !c.Enabled {
		e.Reset(regionName)
		return d
	}
	d.Required = c.RequiredConsecutiveFailures
	d.Breaches = c.Breaches(s, eventType)
	d.Breached = len(d.Breaches) > 0

	e.mu.Lock()
	if !d.Breached {
		delete(e.streaks, regionName)
		e.mu.Unlock()
		return d
	}

	streak := e.streaks[regionName]
	if n := len(streak); stamped && n > 0 && !at.After(streak[n-1]) {
		d.Consecutive = n
		e.mu.Unlock()
		d.Reason = describe(d.Breaches)
		d.Triggered = d.Consecutive >= d.Required
		e.logger.Debug("sample already counted",
			zap.String("region", regionName),
			zap.Time("captured_at", at),
			zap.Int("consecutive", d.Consecutive))
		return d
	}

	cutoff := at.Add(-c.EvaluationWindow)
	kept := streak[:0:0]
	for _, t := range streak {
		if !t.Before(cutoff) && !t.After(at) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	if len(kept) > d.Required {
		kept = kept[len(kept)-d.Required:]
	}
	e.streaks[regionName] = kept
	d.Consecutive = len(kept)
	e.mu.Unlock()

	d.Reason = describe(d.Breaches)
	d.Triggered = d.Consecutive >= d.Required

	if d.Triggered {
		e.logger.Warn("failover triggered",
			zap.String("region", regionName),
			zap.String("criteria", c.Name),
			zap.Int("consecutive", d.Consecutive),
			zap.String("reason", d.Reason))
	} else {
		e.logger.Info("threshold breached",
			zap.String("region", regionName),
			zap.Int("consecutive", d.Consecutive),
			zap.Int("required", d.Required),
			zap.String("reason", d.Reason))
	}
	return d
}

// Reset clears the region's breach streak.
func (e *Engine) Reset(regionName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streaks, regionName)
}

// Streak returns the current number of consecutive breaches held for a region.
func (e *Engine) Streak(regionName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streaks[regionName])
}
