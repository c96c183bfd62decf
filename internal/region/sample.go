// internal/region/sample.go
package region

import (
	"fmt"
	"math"
	"time"
)

// PerformanceSample is one point-in-time measurement of a region.
// Samples are values: once recorded they are only ever superseded, never edited.
type PerformanceSample struct {
	ResponseTimeMs float64   `json:"response_time_ms" yaml:"response_time_ms"`
	ErrorRatePct   float64   `json:"error_rate_pct" yaml:"error_rate_pct"`
	Throughput     float64   `json:"throughput" yaml:"throughput"` // req/s or % of capacity, per deployment
	CPUPct         float64   `json:"cpu_pct" yaml:"cpu_pct"`
	MemoryPct      float64   `json:"memory_pct" yaml:"memory_pct"`
	CapturedAt     time.Time `json:"captured_at" yaml:"captured_at"`
}

// Validate rejects samples that cannot describe a real measurement.
func (s PerformanceSample) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"response_time_ms", s.ResponseTimeMs},
		{"error_rate_pct", s.ErrorRatePct},
		{"throughput", s.Throughput},
		{"cpu_pct", s.CPUPct},
		{"memory_pct", s.MemoryPct},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Field: f.name, Reason: "must be a finite number"}
		}
		if f.value < 0 {
			return &ValidationError{Field: f.name, Reason: fmt.Sprintf("must be >= 0, got %g", f.value)}
		}
	}
	if s.ErrorRatePct > 100 {
		return &ValidationError{Field: "error_rate_pct", Reason: fmt.Sprintf("must be <= 100, got %g", s.ErrorRatePct)}
	}
	return nil
}
