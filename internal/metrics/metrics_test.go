// internal/metrics/metrics_test.go
package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FairForge/regioncoord/internal/region"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Regions(t *testing.T) {
	m := New()

	m.ObserveRegion(region.Region{
		Name:   "eu-west",
		Score:  42.5,
		Sample: &region.PerformanceSample{ResponseTimeMs: 1800, ErrorRatePct: 0.2, Throughput: 90},
	})
	m.ObserveRegion(region.Region{Name: "us-east", Score: 88})
	m.SetRegionCount(2)

	assert.Equal(t, 42.5, testutil.ToFloat64(m.RegionScore.WithLabelValues("eu-west")))
	assert.Equal(t, 1800.0, testutil.ToFloat64(m.RegionResponseTime.WithLabelValues("eu-west")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Regions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RegionResponseTime), "regions without samples have no latency series")

	m.SetDisparity("eu-west", "us-east", 2)
	m.SetCapacity("eu-west", 5000)
	m.ForgetRegion("eu-west")
	assert.Equal(t, 0, testutil.CollectAndCount(m.DisparityLevel))
	assert.Equal(t, 0, testutil.CollectAndCount(m.CapacityRecommend))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RegionScore))
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveTrigger("eu-west", OutcomeBreached)
	m.ObserveTrigger("eu-west", OutcomeTriggered)
	m.ObserveTrigger("eu-west", OutcomeTriggered)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TriggerEvaluations.WithLabelValues("eu-west", OutcomeTriggered)))

	m.ObserveFailover("completed", 3*time.Second)
	m.ObserveFailover("failed", 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failovers.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FailoverDuration))

	m.ObserveSync("events", "success")
	m.IncCollectionError("ap-south")
	m.IncrementRateLimitHit("10.0.0.1")
	m.IncrementRequest("GET", "/api/v1/regions", 200)
	m.RecordLatency("GET", "/api/v1/regions", 0.01)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncResults.WithLabelValues("events", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCounter.WithLabelValues("GET", "/api/v1/regions", "200")))

	m.SetCapacity("", 10)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.CapacityRecommend.WithLabelValues("unspecified")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetActiveFailovers(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "regioncoord_failovers_active 3"))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.SetRegionCount(5)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Regions))
	assert.NotSame(t, a.Registry(), b.Registry())
}
