// internal/failover/criteria.go
package failover

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/FairForge/regioncoord/internal/region"
)

var (
	ErrInvalidWindow   = errors.New("failover: evaluation window must be positive")
	ErrInvalidRequired = errors.New("failover: required consecutive failures must be at least 1")
	ErrInvalidLimit    = errors.New("failover: thresholds must be finite and non-negative")
)

// Thresholds are the limits a region must stay within. Response time and
// error rate are upper bounds; throughput is a lower bound.
type Thresholds struct {
	ResponseTimeMs float64 `yaml:"response_time_ms" json:"response_time_ms"`
	ErrorRatePct   float64 `yaml:"error_rate_pct" json:"error_rate_pct"`
	ThroughputPct  float64 `yaml:"throughput_pct" json:"throughput_pct"`
}

func (t Thresholds) validate() error {
	for _, v := range []float64{t.ResponseTimeMs, t.ErrorRatePct, t.ThroughputPct} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return ErrInvalidLimit
		}
	}
	return nil
}

// ThresholdOverride replaces any subset of the global thresholds for a
// named event. Nil fields fall back to the global value.
type ThresholdOverride struct {
	ResponseTimeMs *float64 `yaml:"response_time_ms,omitempty" json:"response_time_ms,omitempty"`
	ErrorRatePct   *float64 `yaml:"error_rate_pct,omitempty" json:"error_rate_pct,omitempty"`
	ThroughputPct  *float64 `yaml:"throughput_pct,omitempty" json:"throughput_pct,omitempty"`
}

// TriggerCriteria decides when a region should fail over.
type TriggerCriteria struct {
	Name                        string                       `yaml:"name" json:"name"`
	Thresholds                  Thresholds                   `yaml:"thresholds" json:"thresholds"`
	EvaluationWindow            time.Duration                `yaml:"evaluation_window" json:"evaluation_window"`
	RequiredConsecutiveFailures int                          `yaml:"required_consecutive_failures" json:"required_consecutive_failures"`
	Enabled                     bool                         `yaml:"enabled" json:"enabled"`
	EventOverrides              map[string]ThresholdOverride `yaml:"event_overrides,omitempty" json:"event_overrides,omitempty"`
}

// NewTriggerCriteria builds enabled criteria and validates them.
func NewTriggerCriteria(name string, t Thresholds, window time.Duration, required int) (*TriggerCriteria, error) {
	c := &TriggerCriteria{
		Name:                        name,
		Thresholds:                  t,
		EvaluationWindow:            window,
		RequiredConsecutiveFailures: required,
		Enabled:                     true,
		EventOverrides:              make(map[string]ThresholdOverride),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone returns a deep copy.
func (c *TriggerCriteria) Clone() *TriggerCriteria {
	cp := *c
	cp.EventOverrides = make(map[string]ThresholdOverride, len(c.EventOverrides))
	for k, o := range c.EventOverrides {
		cp.EventOverrides[k] = ThresholdOverride{
			ResponseTimeMs: clonePtr(o.ResponseTimeMs),
			ErrorRatePct:   clonePtr(o.ErrorRatePct),
			ThroughputPct:  clonePtr(o.ThroughputPct),
		}
	}
	return &cp
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Validate checks the window, debounce count and every threshold.
func (c *TriggerCriteria) Validate() error {
	if c.EvaluationWindow <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidWindow, c.EvaluationWindow)
	}
	if c.RequiredConsecutiveFailures < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidRequired, c.RequiredConsecutiveFailures)
	}
	if err := c.Thresholds.validate(); err != nil {
		return err
	}
	for event, o := range c.EventOverrides {
		for _, v := range []*float64{o.ResponseTimeMs, o.ErrorRatePct, o.ThroughputPct} {
			if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
				return fmt.Errorf("%w: override %q", ErrInvalidLimit, event)
			}
		}
	}
	return nil
}

// SetEventOverride installs an override for a named event.
func (c *TriggerCriteria) SetEventOverride(eventType string, o ThresholdOverride) error {
	if strings.TrimSpace(eventType) == "" {
		return errors.New("failover: event type is required")
	}
	if c.EventOverrides == nil {
		c.EventOverrides = make(map[string]ThresholdOverride)
	}
	prev, had := c.EventOverrides[eventType]
	c.EventOverrides[eventType] = o
	if err := c.Validate(); err != nil {
		if had {
			c.EventOverrides[eventType] = prev
		} else {
			delete(c.EventOverrides, eventType)
		}
		return err
	}
	return nil
}

// Effective resolves each threshold field independently: the event's override
// field when the event is present and that field is set, else the global.
func (c *TriggerCriteria) Effective(eventType opt.Option[string]) Thresholds {
	eff := c.Thresholds
	name, ok := eventType.Get()
	if !ok {
		return eff
	}
	o, found := c.EventOverrides[name]
	if !found {
		return eff
	}
	if o.ResponseTimeMs != nil {
		eff.ResponseTimeMs = *o.ResponseTimeMs
	}
	if o.ErrorRatePct != nil {
		eff.ErrorRatePct = *o.ErrorRatePct
	}
	if o.ThroughputPct != nil {
		eff.ThroughputPct = *o.ThroughputPct
	}
	return eff
}

// Metric names used in breaches.
const (
	MetricResponseTime = "response_time_ms"
	MetricErrorRate    = "error_rate_pct"
	MetricThroughput   = "throughput_pct"
)

// Breach is one threshold a sample violated.
type Breach struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

func (b Breach) String() string {
	switch b.Metric {
	case MetricThroughput:
		return fmt.Sprintf("throughput %g below threshold %g", b.Value, b.Threshold)
	case MetricErrorRate:
		return fmt.Sprintf("error rate %g%% exceeds threshold %g%%", b.Value, b.Threshold)
	default:
		return fmt.Sprintf("response time %gms exceeds threshold %gms", b.Value, b.Threshold)
	}
}

// Breaches lists every effective threshold the sample violates.
func (c *TriggerCriteria) Breaches(s region.PerformanceSample, eventType opt.Option[string]) []Breach {
	eff := c.Effective(eventType)
	var out []Breach
	if s.ResponseTimeMs > eff.ResponseTimeMs {
		out = append(out, Breach{Metric: MetricResponseTime, Value: s.ResponseTimeMs, Threshold: eff.ResponseTimeMs})
	}
	if s.ErrorRatePct > eff.ErrorRatePct {
		out = append(out, Breach{Metric: MetricErrorRate, Value: s.ErrorRatePct, Threshold: eff.ErrorRatePct})
	}
	if s.Throughput < eff.ThroughputPct {
		out = append(out, Breach{Metric: MetricThroughput, Value: s.Throughput, Threshold: eff.ThroughputPct})
	}
	return out
}

// Float returns a pointer to v, for building overrides.
func Float(v float64) *float64 {
	return &v
}

func describe(breaches []Breach) string {
	parts := make([]string, len(breaches))
	for i, b := range breaches {
		parts[i] = b.String()
	}
	return strings.Join(parts, "; ")
}
