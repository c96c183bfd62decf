// internal/syncsched/policy.go
package syncsched

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/regioncoord/internal/opt"
)

// SyncType defines how eagerly a category is reconciled across regions.
type SyncType string

const (
	SyncRealTime     SyncType = "real-time"
	SyncNearRealTime SyncType = "near-real-time"
	SyncBatch        SyncType = "batch"
	SyncOnDemand     SyncType = "on-demand"
)

// Valid reports whether t is a known sync type.
func (t SyncType) Valid() bool {
	switch t {
	case SyncRealTime, SyncNearRealTime, SyncBatch, SyncOnDemand:
		return true
	}
	return false
}

// Priority orders sync work.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns 0 (low) to 3 (critical), or -1 for an unknown priority.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return -1
}

var (
	ErrInvalidInterval = errors.New("syncsched: interval must be positive")
	ErrInvalidPriority = errors.New("syncsched: unknown priority")
	ErrInvalidType     = errors.New("syncsched: unknown sync type")
	ErrEmptyID         = errors.New("syncsched: policy id is required")
	ErrEmptyEventType  = errors.New("syncsched: event type is required")
)

// PolicyView is a read-only copy of a policy.
type PolicyView struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Type            SyncType            `json:"type"`
	DefaultPriority Priority            `json:"default_priority"`
	Interval        time.Duration       `json:"interval"`
	Enabled         bool                `json:"enabled"`
	EventPriorities map[string]Priority `json:"event_priorities,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// SyncPolicy governs one data category. It is never deleted, only disabled.
type SyncPolicy struct {
	mu              sync.RWMutex
	id              string
	name            string
	typ             SyncType
	defaultPriority Priority
	interval        time.Duration
	enabled         bool
	eventPriorities map[string]Priority
	updatedAt       time.Time
}

// NewPolicy validates and creates an enabled policy.
func NewPolicy(id, name string, typ SyncType, priority Priority, interval time.Duration) (*SyncPolicy, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyID
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if priority.Rank() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInterval, interval)
	}
	if name == "" {
		name = id
	}

	return &SyncPolicy{
		id:              id,
		name:            name,
		typ:             typ,
		defaultPriority: priority,
		interval:        interval,
		enabled:         true,
		eventPriorities: make(map[string]Priority),
		updatedAt:       time.Now(),
	}, nil
}

// ID returns the policy identifier.
func (p *SyncPolicy) ID() string { return p.id }

// Type returns the sync type.
func (p *SyncPolicy) Type() SyncType { return p.typ }

// SetEventPriority overrides the priority while the named event is active.
func (p *SyncPolicy) SetEventPriority(eventType string, priority Priority) error {
	if strings.TrimSpace(eventType) == "" {
		return ErrEmptyEventType
	}
	if priority.Rank() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventPriorities[eventType] = priority
	p.updatedAt = time.Now()
	return nil
}

// ClearEventPriority removes an override. It reports whether one existed.
func (p *SyncPolicy) ClearEventPriority(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.eventPriorities[eventType]; !ok {
		return false
	}
	delete(p.eventPriorities, eventType)
	p.updatedAt = time.Now()
	return true
}

// GetEffectivePriority returns the override for the event if one exists,
// otherwise the default priority.
func (p *SyncPolicy) GetEffectivePriority(eventType opt.Option[string]) Priority {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if name, ok := eventType.Get(); ok {
		if pr, found := p.eventPriorities[name]; found {
			return pr
		}
	}
	return p.defaultPriority
}

// SetDefaultPriority changes the fallback priority.
func (p *SyncPolicy) SetDefaultPriority(priority Priority) error {
	if priority.Rank() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultPriority = priority
	p.updatedAt = time.Now()
	return nil
}

// SetInterval changes the sync interval; non-positive durations are rejected.
func (p *SyncPolicy) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidInterval, d)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
	p.updatedAt = time.Now()
	return nil
}

// Interval returns the sync interval.
func (p *SyncPolicy) Interval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.interval
}

// Enable lets the policy participate in scheduling.
func (p *SyncPolicy) Enable() { p.setEnabled(true) }

// Disable removes the policy from scheduling without discarding it.
func (p *SyncPolicy) Disable() { p.setEnabled(false) }

func (p *SyncPolicy) setEnabled(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled == v {
		return
	}
	p.enabled = v
	p.updatedAt = time.Now()
}

// Enabled reports whether the policy is scheduled.
func (p *SyncPolicy) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// View returns a copy safe to share.
func (p *SyncPolicy) View() PolicyView {
	p.mu.RLock()
	defer p.mu.RUnlock()

	overrides := make(map[string]Priority, len(p.eventPriorities))
	for k, v := range p.eventPriorities {
		overrides[k] = v
	}
	return PolicyView{
		ID:              p.id,
		Name:            p.name,
		Type:            p.typ,
		DefaultPriority: p.defaultPriority,
		Interval:        p.interval,
		Enabled:         p.enabled,
		EventPriorities: overrides,
		UpdatedAt:       p.updatedAt,
	}
}
