// internal/capacity/planner.go
package capacity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/regioncoord/internal/opt"
	"go.uber.org/zap"
)

// ScalingBand is the hysteresis applied before a recommendation asks to scale.
const ScalingBand = 1.10

var (
	ErrNegativeLoad      = errors.New("capacity: active connections must be >= 0")
	ErrInvalidMultiplier = errors.New("capacity: traffic multiplier must be finite and >= 0")
	ErrInvalidProtection = errors.New("capacity: invalid revenue protection settings")
)

// LoadSample is the current load of one region.
type LoadSample struct {
	Region            string    `json:"region,omitempty"`
	ActiveConnections int64     `json:"active_connections"`
	RequestsPerSecond float64   `json:"requests_per_second,omitempty"`
	CapturedAt        time.Time `json:"captured_at,omitempty"`
}

// ProfileSource resolves a named high-load event to its traffic multiplier.
type ProfileSource interface {
	TrafficMultiplier(eventName string) (multiplier float64, expected time.Duration, ok bool)
}

// ProfileSourceFunc adapts a function to ProfileSource.
type ProfileSourceFunc func(eventName string) (float64, time.Duration, bool)

// TrafficMultiplier calls f.
func (f ProfileSourceFunc) TrafficMultiplier(eventName string) (float64, time.Duration, bool) {
	return f(eventName)
}

// RevenueProtection floors capacity at a percentage of the base load.
// ProtectionThreshold is the connection count at which the floor starts to
// apply; zero applies it to every recommendation.
type RevenueProtection struct {
	Enabled                  bool    `yaml:"enabled" json:"enabled"`
	ProtectionThreshold      float64 `yaml:"protection_threshold" json:"protection_threshold"`
	EmergencyCapacityPercent float64 `yaml:"emergency_capacity_percent" json:"emergency_capacity_percent"`
}

// Validate rejects settings that would produce a negative floor.
func (r RevenueProtection) Validate() error {
	for _, v := range []float64{r.ProtectionThreshold, r.EmergencyCapacityPercent} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: values must be finite and >= 0", ErrInvalidProtection)
		}
	}
	return nil
}

func (r RevenueProtection) applies(base int64) bool {
	return r.Enabled && float64(base) >= r.ProtectionThreshold
}

// Recommendation is recomputed per request and never stored.
type Recommendation struct {
	Region              string             `json:"region,omitempty"`
	BaseCapacity        int64              `json:"base_capacity"`
	RecommendedCapacity int64              `json:"recommended_capacity"`
	ScalingRequired     bool               `json:"scaling_required"`
	EventContext        opt.Option[string] `json:"event_context"`
	Multiplier          float64            `json:"multiplier"`
	ExpectedDuration    time.Duration      `json:"expected_duration,omitempty"`
	Justification       string             `json:"justification"`
}

// Planner recommends capacity for a region from its load, an optional named
// event and the revenue protection floor.
type Planner struct {
	mu         sync.RWMutex
	profiles   ProfileSource
	protection RevenueProtection
	logger     *zap.Logger
}

// NewPlanner creates a planner. profiles may be nil when no event calendar is
// available.
func NewPlanner(profiles ProfileSource, protection RevenueProtection, logger *zap.Logger) (*Planner, error) {
	if err := protection.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{profiles: profiles, protection: protection, logger: logger}, nil
}

// SetRevenueProtection replaces the protection settings.
func (p *Planner) SetRevenueProtection(r RevenueProtection) error {
	if err := r.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.protection = r
	return nil
}

// RevenueProtection returns the current settings.
func (p *Planner) RevenueProtection() RevenueProtection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.protection
}

// RecommendCapacity computes the recommended capacity. The event multiplier
// applies only when the event is known; revenue protection can only raise
// the multiplier.
func (p *Planner) RecommendCapacity(load LoadSample, eventName opt.Option[string]) (Recommendation, error) {
	if load.ActiveConnections < 0 {
		return Recommendation{}, fmt.Errorf("%w: got %d", ErrNegativeLoad, load.ActiveConnections)
	}

	p.mu.RLock()
	protection := p.protection
	profiles := p.profiles
	p.mu.RUnlock()

	base := load.ActiveConnections
	multiplier := 1.0
	rec := Recommendation{Region: load.Region, BaseCapacity: base}
	var why []string

	if name, ok := eventName.Get(); ok && profiles != nil {
		m, expected, found := profiles.TrafficMultiplier(name)
		switch {
		case !found:
			why = append(why, fmt.Sprintf("event %q has no profile", name))
		case math.IsNaN(m) || math.IsInf(m, 0) || m < 0:
			return Recommendation{}, fmt.Errorf("%w: event %q has %g", ErrInvalidMultiplier, name, m)
		default:
			multiplier = m
			rec.EventContext = opt.Some(name)
			rec.ExpectedDuration = expected
			why = append(why, fmt.Sprintf("event %q multiplier %.2f", name, m))
		}
	}

	if protection.applies(base) {
		floor := protection.EmergencyCapacityPercent / 100
		if floor > multiplier {
			why = append(why, fmt.Sprintf("revenue protection raises multiplier %.2f to %.2f", multiplier, floor))
			multiplier = floor
		} else {
			why = append(why, fmt.Sprintf("revenue protection floor %.2f below multiplier", floor))
		}
	}

	rec.Multiplier = multiplier
	rec.RecommendedCapacity = int64(math.Round(float64(base) * multiplier))
	band := float64(base) * ScalingBand
	rec.ScalingRequired = float64(rec.RecommendedCapacity) > band

	cmp := "<="
	if rec.ScalingRequired {
		cmp = ">"
	}
	rec.Justification = fmt.Sprintf("%d connections x %.2f = %d; %d %s %.0f (base x %.2f)",
		base, multiplier, rec.RecommendedCapacity, rec.RecommendedCapacity, cmp, band, ScalingBand)
	if len(why) > 0 {
		rec.Justification += "; " + strings.Join(why, "; ")
	}

	p.logger.Debug("capacity recommended",
		zap.String("region", load.Region),
		zap.Int64("base", base),
		zap.Float64("multiplier", multiplier),
		zap.Int64("recommended", rec.RecommendedCapacity),
		zap.Bool("scaling_required", rec.ScalingRequired))
	return rec, nil
}
