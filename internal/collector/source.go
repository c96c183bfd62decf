// internal/collector/source.go
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/regioncoord/internal/region"
)

var ErrNoEndpoint = errors.New("collector: no endpoint configured for region")

// Source pulls the current performance sample of one region.
type Source interface {
	Fetch(ctx context.Context, regionName string) (region.PerformanceSample, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, regionName string) (region.PerformanceSample, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, regionName string) (region.PerformanceSample, error) {
	return f(ctx, regionName)
}

// Sink receives collected samples. region.Coordinator satisfies it.
type Sink interface {
	RecordSample(regionName string, s region.PerformanceSample) error
}

// HTTPSource reads a JSON-encoded sample from each region's status endpoint.
type HTTPSource struct {
	mu         sync.RWMutex
	endpoints  map[string]string
	httpClient *http.Client
	token      string
	now        func() time.Time
}

// NewHTTPSource creates a source with one status URL per region. token, when
// set, is sent as a bearer token.
func NewHTTPSource(endpoints map[string]string, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	eps := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		eps[k] = v
	}
	return &HTTPSource{
		endpoints:  eps,
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
		now:        time.Now,
	}
}

// SetEndpoint adds or replaces a region's status URL.
func (s *HTTPSource) SetEndpoint(regionName, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[regionName] = url
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, regionName string) (region.PerformanceSample, error) {
	s.mu.RLock()
	url, ok := s.endpoints[regionName]
	s.mu.RUnlock()
	if !ok {
		return region.PerformanceSample{}, fmt.Errorf("%w: %s", ErrNoEndpoint, regionName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return region.PerformanceSample{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return region.PerformanceSample{}, fmt.Errorf("fetch %s: %w", regionName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return region.PerformanceSample{}, fmt.Errorf("fetch %s: status %d: %s",
			regionName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sample region.PerformanceSample
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sample); err != nil {
		return region.PerformanceSample{}, fmt.Errorf("decode %s sample: %w", regionName, err)
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = s.now()
	}
	if err := sample.Validate(); err != nil {
		return region.PerformanceSample{}, fmt.Errorf("%s: %w", regionName, err)
	}
	return sample, nil
}
