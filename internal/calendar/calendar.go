// internal/calendar/calendar.go
package calendar

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyName      = errors.New("calendar: event name is required")
	ErrDuplicateEvent = errors.New("calendar: duplicate event")
	ErrInvalidProfile = errors.New("calendar: invalid event profile")
)

// Profile describes the expected load of a named high-traffic event.
// Start and End are optional; a profile without them is never Active but can
// still be looked up by name.
type Profile struct {
	Name              string        `yaml:"name" json:"name"`
	TrafficMultiplier float64       `yaml:"traffic_multiplier" json:"traffic_multiplier"`
	ExpectedDuration  time.Duration `yaml:"expected_duration" json:"expected_duration"`
	Start             time.Time     `yaml:"start,omitempty" json:"start,omitempty"`
	End               time.Time     `yaml:"end,omitempty" json:"end,omitempty"`
	Regions           []string      `yaml:"regions,omitempty" json:"regions,omitempty"`
}

// Validate checks a single profile.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	m := p.TrafficMultiplier
	if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
		return fmt.Errorf("%w: %s: traffic multiplier must be finite and >= 0, got %g", ErrInvalidProfile, p.Name, m)
	}
	if p.ExpectedDuration < 0 {
		return fmt.Errorf("%w: %s: expected duration must be >= 0", ErrInvalidProfile, p.Name)
	}
	if !p.Start.IsZero() && !p.End.IsZero() && !p.End.After(p.Start) {
		return fmt.Errorf("%w: %s: end must be after start", ErrInvalidProfile, p.Name)
	}
	return nil
}

// ActiveAt reports whether now falls in [Start, End). A missing End is
// derived from ExpectedDuration.
func (p Profile) ActiveAt(now time.Time) bool {
	if p.Start.IsZero() {
		return false
	}
	end := p.End
	if end.IsZero() {
		end = p.Start.Add(p.ExpectedDuration)
	}
	return !now.Before(p.Start) && now.Before(end)
}

type file struct {
	Events []Profile `yaml:"events"`
}

// Parse decodes and validates a calendar document.
func Parse(data []byte) ([]Profile, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	seen := make(map[string]bool, len(f.Events))
	for i := range f.Events {
		f.Events[i].Name = strings.TrimSpace(f.Events[i].Name)
		p := f.Events[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, p.Name)
		}
		seen[p.Name] = true
	}
	return f.Events, nil
}

// LoadFile reads and parses a calendar file.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar %s: %w", path, err)
	}
	return Parse(data)
}

// Calendar is a concurrency-safe set of event profiles keyed by name.
type Calendar struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// New creates a calendar holding profiles.
func New(profiles ...Profile) (*Calendar, error) {
	c := &Calendar{profiles: make(map[string]Profile)}
	if err := c.Replace(profiles); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps in a new profile set. On error the calendar is unchanged.
func (c *Calendar) Replace(profiles []Profile) error {
	next := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		p.Name = strings.TrimSpace(p.Name)
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := next[p.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, p.Name)
		}
		p.Regions = append([]string(nil), p.Regions...)
		next[p.Name] = p
	}
	c.mu.Lock()
	c.profiles = next
	c.mu.Unlock()
	return nil
}

// Lookup returns the profile for an event name.
func (c *Calendar) Lookup(name string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[strings.TrimSpace(name)]
	return p, ok
}

// TrafficMultiplier satisfies the capacity planner's profile source.
func (c *Calendar) TrafficMultiplier(name string) (float64, time.Duration, bool) {
	p, ok := c.Lookup(name)
	if !ok {
		return 0, 0, false
	}
	return p.TrafficMultiplier, p.ExpectedDuration, true
}

// Active returns the profiles running at now, highest multiplier first.
func (c *Calendar) Active(now time.Time) []Profile {
	c.mu.RLock()
	var out []Profile
	for _, p := range c.profiles {
		if p.ActiveAt(now) {
			out = append(out, p)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TrafficMultiplier != out[j].TrafficMultiplier {
			return out[i].TrafficMultiplier > out[j].TrafficMultiplier
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CurrentEvent names the dominant active event, if any.
func (c *Calendar) CurrentEvent(now time.Time) (string, bool) {
	active := c.Active(now)
	if len(active) == 0 {
		return "", false
	}
	return active[0].Name, true
}

// Profiles returns every profile sorted by name.
func (c *Calendar) Profiles() []Profile {
	c.mu.RLock()
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of profiles.
func (c *Calendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}
