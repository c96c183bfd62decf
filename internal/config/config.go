// internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/FairForge/regioncoord/internal/audit"
	"github.com/FairForge/regioncoord/internal/capacity"
	"github.com/FairForge/regioncoord/internal/failover"
	"github.com/FairForge/regioncoord/internal/region"
	"github.com/FairForge/regioncoord/internal/syncsched"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Regions     []string          `yaml:"regions"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Failover    FailoverConfig    `yaml:"failover"`
	Disparity   DisparityConfig   `yaml:"disparity"`
	Capacity    CapacityConfig    `yaml:"capacity"`
	Calendar    CalendarConfig    `yaml:"calendar"`
	Collector   CollectorConfig   `yaml:"collector"`
	Audit       AuditConfig       `yaml:"audit"`
	Sync        SyncConfig        `yaml:"sync"`
}

type ServerConfig struct {
	Addr               string        `yaml:"addr" default:":8080"`
	LogLevel           string        `yaml:"log_level" default:"info"`
	Development        bool          `yaml:"development"`
	ReadTimeout        time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout       time.Duration `yaml:"write_timeout" default:"15s"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" default:"30s"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second" default:"50"`
	RateLimitBurst     int           `yaml:"rate_limit_burst" default:"100"`
}

// CoordinatorConfig tunes region scoring. An explicit score_smoothing of 0
// disables automatic scoring from samples; leaving it out uses 0.3.
type CoordinatorConfig struct {
	ScoreSmoothing *float64            `yaml:"score_smoothing" default:"0.3"`
	ScoreWeights   region.ScoreWeights `yaml:"score_weights"`
}

// Smoothing returns the configured EWMA factor.
func (c CoordinatorConfig) Smoothing() float64 {
	if c.ScoreSmoothing == nil {
		return 0
	}
	return *c.ScoreSmoothing
}

type FailoverConfig struct {
	Criteria           failover.TriggerCriteria `yaml:"criteria"`
	AutoFailover       bool                     `yaml:"auto_failover"`
	MaxDuration        time.Duration            `yaml:"max_duration" default:"5m"`
	MaxRecords         int                      `yaml:"max_records" default:"1000"`
	EvaluationInterval time.Duration            `yaml:"evaluation_interval" default:"30s"`
}

type DisparityConfig struct {
	CriticalResponseTimeMs float64 `yaml:"critical_response_time_ms"`
	CriticalThroughput     float64 `yaml:"critical_throughput"`
}

type CapacityConfig struct {
	RevenueProtection capacity.RevenueProtection `yaml:"revenue_protection"`
}

type CalendarConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type CollectorConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Interval      time.Duration     `yaml:"interval" default:"15s"`
	Timeout       time.Duration     `yaml:"timeout" default:"5s"`
	RatePerSecond float64           `yaml:"rate_per_second"`
	Burst         int               `yaml:"burst"`
	Token         string            `yaml:"token"`
	Endpoints     map[string]string `yaml:"endpoints"`
}

type AuditConfig struct {
	MemoryMax int                 `yaml:"memory_max" default:"10000"`
	Log       bool                `yaml:"log"`
	Postgres  PostgresAuditConfig `yaml:"postgres"`
	Archive   ArchiveAuditConfig  `yaml:"archive"`
}

type PostgresAuditConfig struct {
	Enabled              bool `yaml:"enabled"`
	audit.PostgresConfig `yaml:",inline"`
}

type ArchiveAuditConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FlushInterval       time.Duration `yaml:"flush_interval" default:"1m"`
	audit.ArchiveConfig `yaml:",inline"`
}

type SyncConfig struct {
	Policies []SyncPolicyConfig `yaml:"policies"`
}

type SyncPolicyConfig struct {
	Category        string            `yaml:"category"`
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Type            string            `yaml:"type"`
	Priority        string            `yaml:"priority"`
	Interval        time.Duration     `yaml:"interval"`
	EventPriorities map[string]string `yaml:"event_priorities"`
	Disabled        bool              `yaml:"disabled"`
}

// Build turns the configured policy into a scheduler policy.
func (p SyncPolicyConfig) Build() (*syncsched.SyncPolicy, error) {
	id := p.ID
	if id == "" {
		id = p.Category
	}
	name := p.Name
	if name == "" {
		name = p.Category
	}
	typ := syncsched.SyncType(p.Type)
	if p.Type == "" {
		typ = syncsched.SyncBatch
	}
	prio := syncsched.Priority(p.Priority)
	if p.Priority == "" {
		prio = syncsched.PriorityNormal
	}
	interval := p.Interval
	if interval == 0 {
		interval = time.Minute
	}
	policy, err := syncsched.NewPolicy(id, name, typ, prio, interval)
	if err != nil {
		return nil, fmt.Errorf("sync policy %q: %w", p.Category, err)
	}
	for ev, pr := range p.EventPriorities {
		if err := policy.SetEventPriority(ev, syncsched.Priority(pr)); err != nil {
			return nil, fmt.Errorf("sync policy %q: %w", p.Category, err)
		}
	}
	if p.Disabled {
		policy.Disable()
	}
	return policy, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Failover.Criteria.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Criteria are live unless the file says enabled: false.
	var presence struct {
		Failover struct {
			Criteria struct {
				Enabled *bool `yaml:"enabled"`
			} `yaml:"criteria"`
		} `yaml:"failover"`
	}
	if err := yaml.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if presence.Failover.Criteria.Enabled == nil {
		cfg.Failover.Criteria.Enabled = true
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 15 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.RateLimitPerSecond == 0 {
		s.RateLimitPerSecond = 50
	}
	if s.RateLimitBurst == 0 {
		s.RateLimitBurst = 100
	}

	if c.Coordinator.ScoreSmoothing == nil {
		smoothing := 0.3
		c.Coordinator.ScoreSmoothing = &smoothing
	}
	if c.Coordinator.ScoreWeights == (region.ScoreWeights{}) {
		c.Coordinator.ScoreWeights = region.DefaultScoreWeights()
	}

	f := &c.Failover
	if f.Criteria.Name == "" {
		f.Criteria.Name = "default"
	}
	if f.Criteria.Thresholds == (failover.Thresholds{}) {
		f.Criteria.Thresholds = failover.Thresholds{ResponseTimeMs: 1000, ErrorRatePct: 1, ThroughputPct: 85}
	}
	if f.Criteria.EvaluationWindow == 0 {
		f.Criteria.EvaluationWindow = 5 * time.Minute
	}
	if f.Criteria.RequiredConsecutiveFailures == 0 {
		f.Criteria.RequiredConsecutiveFailures = 3
	}
	if f.MaxDuration == 0 {
		f.MaxDuration = 5 * time.Minute
	}
	if f.MaxRecords == 0 {
		f.MaxRecords = 1000
	}
	if f.EvaluationInterval == 0 {
		f.EvaluationInterval = 30 * time.Second
	}

	if c.Collector.Interval == 0 {
		c.Collector.Interval = 15 * time.Second
	}
	if c.Collector.Timeout == 0 {
		c.Collector.Timeout = 5 * time.Second
	}

	if c.Audit.MemoryMax == 0 {
		c.Audit.MemoryMax = 10000
	}
	if c.Audit.Archive.FlushInterval == 0 {
		c.Audit.Archive.FlushInterval = time.Minute
	}
}

// Validate checks the configuration for values the services would reject.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Regions) == 0 {
		errs = append(errs, errors.New("config: at least one region is required"))
	}
	seen := map[string]bool{}
	for _, r := range c.Regions {
		r = strings.TrimSpace(r)
		if r == "" {
			errs = append(errs, errors.New("config: region names must not be empty"))
			continue
		}
		if seen[r] {
			errs = append(errs, fmt.Errorf("config: duplicate region %q", r))
		}
		seen[r] = true
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log level %q", c.Server.LogLevel))
	}
	if c.Server.RateLimitPerSecond < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("config: rate limits must be >= 0"))
	}
	if a := c.Coordinator.Smoothing(); math.IsNaN(a) || a < 0 || a > 1 {
		errs = append(errs, fmt.Errorf("config: score smoothing must be in [0,1], got %g", a))
	}

	if err := c.Failover.Criteria.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Failover.MaxDuration < 0 || c.Failover.EvaluationInterval < 0 {
		errs = append(errs, errors.New("config: failover durations must be positive"))
	}
	if err := c.Capacity.RevenueProtection.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Collector.Enabled {
		for _, r := range c.Regions {
			if _, ok := c.Collector.Endpoints[r]; !ok {
				errs = append(errs, fmt.Errorf("config: collector has no endpoint for region %q", r))
			}
		}
	}
	if c.Audit.Postgres.Enabled && c.Audit.Postgres.Host == "" {
		errs = append(errs, errors.New("config: audit postgres host is required"))
	}
	if c.Audit.Archive.Enabled && c.Audit.Archive.Bucket == "" {
		errs = append(errs, errors.New("config: audit archive bucket is required"))
	}

	for i, p := range c.Sync.Policies {
		if strings.TrimSpace(p.Category) == "" {
			errs = append(errs, fmt.Errorf("config: sync policy %d has no category", i))
			continue
		}
		if _, err := p.Build(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
