// internal/collector/poller.go
package collector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// RatePerSecond and Burst bound fetches across all regions.
	RatePerSecond float64
	Burst         int
	Logger        *zap.Logger
	// OnSample is called after a sample was accepted by the sink.
	OnSample func(regionName string)
	// OnError is called for every failed fetch or rejected sample.
	OnError func(regionName string, err error)
}

// RegionStats summarizes collection for one region.
type RegionStats struct {
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Samples             int64     `json:"samples"`
}

// Poller collects samples for each tracked region in its own goroutine.
// Regions are independent: a slow or failing region never delays another,
// apart from the shared rate limit.
type Poller struct {
	src     Source
	sink    Sink
	cfg     PollerConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	base    context.Context
	cancels map[string]context.CancelFunc
	stats   map[string]*RegionStats
	wg      sync.WaitGroup
}

// NewPoller creates a poller.
func NewPoller(src Source, sink Sink, cfg PollerConfig) (*Poller, error) {
	if src == nil || sink == nil {
		return nil, errors.New("collector: source and sink are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 || cfg.Timeout > cfg.Interval {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Poller{
		src:     src,
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  cfg.Logger.Named("collector"),
		cancels: make(map[string]context.CancelFunc),
		stats:   make(map[string]*RegionStats),
	}, nil
}

// Start begins polling the given regions. Regions tracked later start
// immediately as well. Cancelling ctx stops every loop.
func (p *Poller) Start(ctx context.Context, regions ...string) {
	p.mu.Lock()
	p.base = ctx
	p.mu.Unlock()
	for _, r := range regions {
		p.Track(r)
	}
}

// Track starts polling a region. It returns false if the region is already
// tracked or the poller has not been started.
func (p *Poller) Track(regionName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.base == nil || p.base.Err() != nil {
		return false
	}
	if _, ok := p.cancels[regionName]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(p.base)
	p.cancels[regionName] = cancel
	if _, ok := p.stats[regionName]; !ok {
		p.stats[regionName] = &RegionStats{}
	}
	p.wg.Add(1)
	go p.loop(ctx, regionName)
	return true
}

// Untrack stops polling a region.
func (p *Poller) Untrack(regionName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.cancels[regionName]
	if !ok {
		return false
	}
	cancel()
	delete(p.cancels, regionName)
	delete(p.stats, regionName)
	return true
}

// Tracked lists the polled regions.
func (p *Poller) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.cancels))
	for r := range p.cancels {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Stop cancels every loop and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	for r, cancel := range p.cancels {
		cancel()
		delete(p.cancels, r)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, regionName string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx, regionName); err != nil && ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches one sample for a region and hands it to the sink.
func (p *Poller) PollOnce(ctx context.Context, regionName string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	sample, err := p.src.Fetch(fetchCtx, regionName)
	cancel()
	if err == nil {
		err = p.sink.RecordSample(regionName, sample)
	}

	p.mu.Lock()
	st, ok := p.stats[regionName]
	if !ok {
		st = &RegionStats{}
		p.stats[regionName] = st
	}
	if err != nil {
		st.LastError = err.Error()
		st.ConsecutiveFailures++
	} else {
		st.LastSuccess = sample.CapturedAt
		st.LastError = ""
		st.ConsecutiveFailures = 0
		st.Samples++
	}
	failures := st.ConsecutiveFailures
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("sample collection failed",
				zap.String("region", regionName),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
		}
		if p.cfg.OnError != nil {
			p.cfg.OnError(regionName, err)
		}
		return err
	}
	if p.cfg.OnSample != nil {
		p.cfg.OnSample(regionName)
	}
	return nil
}

// Stats returns collection stats per region.
func (p *Poller) Stats() map[string]RegionStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]RegionStats, len(p.stats))
	for r, st := range p.stats {
		out[r] = *st
	}
	return out
}
