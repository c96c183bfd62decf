// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/FairForge/regioncoord/internal/region"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "regioncoord"

// Metrics holds the Prometheus collectors for the coordinator and its API.
// Each instance owns its registry so tests can build as many as they need.
type Metrics struct {
	RegionScore        *prometheus.GaugeVec
	RegionResponseTime *prometheus.GaugeVec
	RegionErrorRate    *prometheus.GaugeVec
	RegionThroughput   *prometheus.GaugeVec
	Regions            prometheus.Gauge
	DisparityLevel     *prometheus.GaugeVec
	TriggerEvaluations *prometheus.CounterVec
	Failovers          *prometheus.CounterVec
	FailoverDuration   prometheus.Histogram
	ActiveFailovers    prometheus.Gauge
	CapacityRecommend  *prometheus.GaugeVec
	SyncResults        *prometheus.CounterVec
	CollectionErrors   *prometheus.CounterVec
	RequestCounter     *prometheus.CounterVec
	LatencyHistogram   *prometheus.HistogramVec
	RateLimitHits      *prometheus.CounterVec
	registry           *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	regionLabel := []string{"region"}

	m := &Metrics{
		RegionScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "region_performance_score",
			Help: "Performance score of each region (0-100)",
		}, regionLabel),
		RegionResponseTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "region_response_time_ms",
			Help: "Latest response time sample per region",
		}, regionLabel),
		RegionErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "region_error_rate_pct",
			Help: "Latest error rate sample per region",
		}, regionLabel),
		RegionThroughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "region_throughput",
			Help: "Latest throughput sample per region",
		}, regionLabel),
		Regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "regions",
			Help: "Number of coordinated regions",
		}),
		DisparityLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "disparity_level",
			Help: "Disparity level between two regions (0 low, 1 medium, 2 high, 3 critical)",
		}, []string{"region_a", "region_b"}),
		TriggerEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trigger_evaluations_total",
			Help: "Failover trigger evaluations by outcome",
		}, []string{"region", "outcome"}),
		Failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "failovers_total",
			Help: "Failovers by final status",
		}, []string{"status"}),
		FailoverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "failover_duration_seconds",
			Help:    "Time from initiation to completion of a failover",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ActiveFailovers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "failovers_active",
			Help: "Failovers currently in flight",
		}),
		CapacityRecommend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "capacity_recommended",
			Help: "Most recent recommended capacity per region",
		}, regionLabel),
		SyncResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_results_total",
			Help: "Finished synchronization runs by category and status",
		}, []string{"category", "status"}),
		CollectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "collection_errors_total",
			Help: "Failed sample collections per region",
		}, regionLabel),
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		LatencyHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		}, []string{"client"}),
		registry: registry,
	}

	registry.MustRegister(
		m.RegionScore, m.RegionResponseTime, m.RegionErrorRate, m.RegionThroughput, m.Regions,
		m.DisparityLevel, m.TriggerEvaluations, m.Failovers, m.FailoverDuration, m.ActiveFailovers,
		m.CapacityRecommend, m.SyncResults, m.CollectionErrors,
		m.RequestCounter, m.LatencyHistogram, m.RateLimitHits,
	)
	return m
}

// ObserveRegion publishes a region's latest sample and score.
func (m *Metrics) ObserveRegion(r region.Region) {
	m.RegionScore.WithLabelValues(r.Name).Set(r.Score)
	if r.Sample == nil {
		return
	}
	m.RegionResponseTime.WithLabelValues(r.Name).Set(r.Sample.ResponseTimeMs)
	m.RegionErrorRate.WithLabelValues(r.Name).Set(r.Sample.ErrorRatePct)
	m.RegionThroughput.WithLabelValues(r.Name).Set(r.Sample.Throughput)
}

// ForgetRegion drops every per-region series for a removed region.
func (m *Metrics) ForgetRegion(name string) {
	for _, g := range []*prometheus.GaugeVec{m.RegionScore, m.RegionResponseTime, m.RegionErrorRate, m.RegionThroughput, m.CapacityRecommend} {
		g.DeleteLabelValues(name)
	}
	m.DisparityLevel.DeletePartialMatch(prometheus.Labels{"region_a": name})
	m.DisparityLevel.DeletePartialMatch(prometheus.Labels{"region_b": name})
}

// SetRegionCount sets the number of coordinated regions.
func (m *Metrics) SetRegionCount(n int) {
	m.Regions.Set(float64(n))
}

// SetDisparity records the level rank for a region pair.
func (m *Metrics) SetDisparity(a, b string, rank int) {
	m.DisparityLevel.WithLabelValues(a, b).Set(float64(rank))
}

// Trigger outcomes.
const (
	OutcomeHealthy   = "healthy"
	OutcomeBreached  = "breached"
	OutcomeTriggered = "triggered"
)

// ObserveTrigger counts one trigger evaluation.
func (m *Metrics) ObserveTrigger(regionName, outcome string) {
	m.TriggerEvaluations.WithLabelValues(regionName, outcome).Inc()
}

// ObserveFailover counts a finished failover and its duration.
func (m *Metrics) ObserveFailover(status string, d time.Duration) {
	m.Failovers.WithLabelValues(status).Inc()
	if d > 0 {
		m.FailoverDuration.Observe(d.Seconds())
	}
}

// SetActiveFailovers sets the in-flight failover count.
func (m *Metrics) SetActiveFailovers(n int) {
	m.ActiveFailovers.Set(float64(n))
}

// SetCapacity records a capacity recommendation.
func (m *Metrics) SetCapacity(regionName string, capacity int64) {
	if regionName == "" {
		regionName = "unspecified"
	}
	m.CapacityRecommend.WithLabelValues(regionName).Set(float64(capacity))
}

// ObserveSync counts a finished synchronization run.
func (m *Metrics) ObserveSync(category, status string) {
	m.SyncResults.WithLabelValues(category, status).Inc()
}

// IncCollectionError counts a failed sample collection.
func (m *Metrics) IncCollectionError(regionName string) {
	m.CollectionErrors.WithLabelValues(regionName).Inc()
}

// IncrementRequest increments the request counter.
func (m *Metrics) IncrementRequest(method, route string, status int) {
	m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordLatency records request latency.
func (m *Metrics) RecordLatency(method, route string, seconds float64) {
	m.LatencyHistogram.WithLabelValues(method, route).Observe(seconds)
}

// IncrementRateLimitHit increments the rate limit hit counter.
func (m *Metrics) IncrementRateLimitHit(client string) {
	m.RateLimitHits.WithLabelValues(client).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
