// internal/disparity/analyzer.go
package disparity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/FairForge/regioncoord/internal/region"
	"go.uber.org/zap"
)

// Level classifies the gap between two regions.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels from low (0) to critical (3).
func (l Level) Rank() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// ErrTooFewRegions is returned when fewer than two regions have samples.
var ErrTooFewRegions = errors.New("disparity: at least two regions with samples are required")

// Thresholds are the absolute deltas above which a pair is escalated.
// The zero Critical values disable the critical level.
type Thresholds struct {
	MediumResponseTimeMs   float64
	MediumThroughput       float64
	HighResponseTimeMs     float64
	HighThroughput         float64
	CriticalResponseTimeMs float64
	CriticalThroughput     float64
}

// DefaultThresholds are the fixed compatibility thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MediumResponseTimeMs: 500,
		MediumThroughput:     50,
		HighResponseTimeMs:   1000,
		HighThroughput:       100,
	}
}

// Report is the derived comparison of one unordered region pair.
// RegionA is always the lexically smaller name.
type Report struct {
	RegionA           string    `json:"region_a"`
	RegionB           string    `json:"region_b"`
	Level             Level     `json:"level"`
	ResponseTimeDelta float64   `json:"response_time_delta_ms"`
	ThroughputDelta   float64   `json:"throughput_delta"`
	ComputedAt        time.Time `json:"computed_at"`
}

// Analyzer compares regions pairwise. It holds no region state.
type Analyzer struct {
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// NewAnalyzer creates an analyzer. A zero Thresholds value selects the defaults.
func NewAnalyzer(thresholds Thresholds, logger *zap.Logger) *Analyzer {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{thresholds: thresholds, logger: logger, now: time.Now}
}

// Classify returns the level for two samples. Only absolute deltas are used,
// so the result does not depend on argument order.
func (a *Analyzer) Classify(x, y region.PerformanceSample) Level {
	rt := math.Abs(x.ResponseTimeMs - y.ResponseTimeMs)
	tp := math.Abs(x.Throughput - y.Throughput)
	t := a.thresholds

	switch {
	case t.CriticalResponseTimeMs > 0 && rt > t.CriticalResponseTimeMs,
		t.CriticalThroughput > 0 && tp > t.CriticalThroughput:
		return LevelCritical
	case rt > t.HighResponseTimeMs || tp > t.HighThroughput:
		return LevelHigh
	case rt > t.MediumResponseTimeMs || tp > t.MediumThroughput:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Analyze produces one report per unordered pair of the supplied regions,
// sorted by (RegionA, RegionB).
func (a *Analyzer) Analyze(samples map[string]region.PerformanceSample) ([]Report, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewRegions, len(samples))
	}

	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)

	now := a.now()
	reports := make([]Report, 0, len(names)*(len(names)-1)/2)
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			x, y := samples[names[i]], samples[names[j]]
			reports = append(reports, Report{
				RegionA:           names[i],
				RegionB:           names[j],
				Level:             a.Classify(x, y),
				ResponseTimeDelta: math.Abs(x.ResponseTimeMs - y.ResponseTimeMs),
				ThroughputDelta:   math.Abs(x.Throughput - y.Throughput),
				ComputedAt:        now,
			})
		}
	}

	identified := Identified(reports)
	if len(identified) > 0 {
		a.logger.Info("performance disparities identified",
			zap.Int("pairs", len(reports)),
			zap.Int("identified", len(identified)),
			zap.String("worst", string(Worst(reports))))
	}
	return reports, nil
}

// Identified filters reports down to pairs above LevelLow.
func Identified(reports []Report) []Report {
	var out []Report
	for _, r := range reports {
		if r.Level.Rank() > LevelLow.Rank() {
			out = append(out, r)
		}
	}
	return out
}

// Worst returns the highest level present, or LevelLow for an empty slice.
func Worst(reports []Report) Level {
	worst := LevelLow
	for _, r := range reports {
		if r.Level.Rank() > worst.Rank() {
			worst = r.Level
		}
	}
	return worst
}
