// internal/region/score.go
package region

import "math"

// ScoreWeights defines importance of each signal in a sample score.
type ScoreWeights struct {
	Latency     float64 `yaml:"latency" json:"latency"`
	ErrorRate   float64 `yaml:"error_rate" json:"error_rate"`
	Throughput  float64 `yaml:"throughput" json:"throughput"`
	Utilization float64 `yaml:"utilization" json:"utilization"`
}

// DefaultScoreWeights returns the weights used when none are configured.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Latency:     0.35,
		ErrorRate:   0.35,
		Throughput:  0.15,
		Utilization: 0.15,
	}
}

// Scorer turns a sample into a 0-100 performance score.
type Scorer struct {
	weights ScoreWeights
}

// NewScorer creates a scorer; zero weights fall back to the defaults.
func NewScorer(weights ScoreWeights) *Scorer {
	if weights == (ScoreWeights{}) {
		weights = DefaultScoreWeights()
	}
	return &Scorer{weights: weights}
}

// Score returns 0-100, higher is better.
func (s *Scorer) Score(p PerformanceSample) float64 {
	// Perfect: <100ms, zero at 2100ms
	latencyScore := 100.0
	if p.ResponseTimeMs > 100 {
		latencyScore = 100.0 - (p.ResponseTimeMs-100)*0.05
	}

	// 0% = 100, 5% = 0
	errorScore := 100.0 - p.ErrorRatePct*20

	// Throughput is treated as percent of capacity
	throughputScore := p.Throughput

	// Headroom on the busier of CPU and memory
	utilizationScore := 100.0 - math.Max(p.CPUPct, p.MemoryPct)

	score := clamp(latencyScore)*s.weights.Latency +
		clamp(errorScore)*s.weights.ErrorRate +
		clamp(throughputScore)*s.weights.Throughput +
		clamp(utilizationScore)*s.weights.Utilization

	total := s.weights.Latency + s.weights.ErrorRate + s.weights.Throughput + s.weights.Utilization
	if total <= 0 {
		return 0
	}
	return score / total
}

// Smooth blends a new score into the rolling one with factor alpha in (0,1].
func Smooth(previous, next, alpha float64) float64 {
	if alpha <= 0 || alpha > 1 {
		return next
	}
	return alpha*next + (1-alpha)*previous
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
