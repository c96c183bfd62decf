package disparity

import (
	"testing"

	"github.com/FairForge/regioncoord/internal/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(rt, tp float64) region.PerformanceSample {
	return region.PerformanceSample{ResponseTimeMs: rt, Throughput: tp}
}

func TestAnalyzer_Classify(t *testing.T) {
	a := NewAnalyzer(Thresholds{}, nil)

	tests := []struct {
		name string
		x, y region.PerformanceSample
		want Level
	}{
		{"identical", sample(200, 90), sample(200, 90), LevelLow},
		{"response time exactly 500 is low", sample(100, 90), sample(600, 90), LevelLow},
		{"response time above 500", sample(100, 90), sample(601, 90), LevelMedium},
		{"throughput above 50", sample(100, 10), sample(100, 61), LevelMedium},
		{"response time exactly 1000 is medium", sample(0, 0), sample(1000, 0), LevelMedium},
		{"response time above 1000", sample(200, 95), sample(1800, 90), LevelHigh},
		{"throughput above 100", sample(100, 0), sample(100, 101), LevelHigh},
		{"either signal escalates", sample(100, 0), sample(200, 75), LevelMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Classify(tt.x, tt.y))
		})
	}
}

func TestAnalyzer_ClassifyIsSymmetric(t *testing.T) {
	a := NewAnalyzer(Thresholds{}, nil)
	values := []float64{0, 49, 50, 51, 99, 100, 101, 499, 500, 501, 999, 1000, 1001, 1800}

	for _, rt1 := range values {
		for _, rt2 := range values {
			for _, tp := range []float64{0, 50.5, 101} {
				x, y := sample(rt1, tp), sample(rt2, 0)
				require.Equal(t, a.Classify(x, y), a.Classify(y, x), "rt1=%v rt2=%v tp=%v", rt1, rt2, tp)
			}
		}
	}
}

func TestAnalyzer_CriticalThreshold(t *testing.T) {
	th := DefaultThresholds()
	th.CriticalResponseTimeMs = 3000
	a := NewAnalyzer(th, nil)

	assert.Equal(t, LevelCritical, a.Classify(sample(0, 0), sample(3500, 0)))
	assert.Equal(t, LevelHigh, a.Classify(sample(0, 0), sample(2500, 0)))
}

func TestAnalyzer_Analyze(t *testing.T) {
	a := NewAnalyzer(Thresholds{}, nil)

	t.Run("requires two regions", func(t *testing.T) {
		_, err := a.Analyze(map[string]region.PerformanceSample{"us-east": sample(1, 1)})
		assert.ErrorIs(t, err, ErrTooFewRegions)
	})

	t.Run("reports every unordered pair", func(t *testing.T) {
		reports, err := a.Analyze(map[string]region.PerformanceSample{
			"us-east":  sample(200, 95),
			"eu-west":  sample(1800, 90),
			"ap-south": sample(150, 98),
		})
		require.NoError(t, err)
		require.Len(t, reports, 3)

		assert.Equal(t, "ap-south", reports[0].RegionA)
		assert.Equal(t, "eu-west", reports[0].RegionB)
		assert.Equal(t, LevelHigh, reports[0].Level)
		assert.Equal(t, 1650.0, reports[0].ResponseTimeDelta)

		assert.Equal(t, "ap-south", reports[1].RegionA)
		assert.Equal(t, "us-east", reports[1].RegionB)
		assert.Equal(t, LevelLow, reports[1].Level)

		identified := Identified(reports)
		assert.Len(t, identified, 2)
		for _, r := range identified {
			assert.True(t, r.RegionA == "eu-west" || r.RegionB == "eu-west")
		}
		assert.Equal(t, LevelHigh, Worst(reports))
	})
}

func TestWorst_Empty(t *testing.T) {
	assert.Equal(t, LevelLow, Worst(nil))
	assert.Empty(t, Identified(nil))
}
