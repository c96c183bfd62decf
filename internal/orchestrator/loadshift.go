// internal/orchestrator/loadshift.go
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/FairForge/regioncoord/internal/failover"
	"github.com/FairForge/regioncoord/internal/region"
)

const (
	loadMetricPrefix = "load:"
	maxTrackedShifts = 1000
)

// LoadShiftMigrator moves the primary's per-event load onto the failover
// region in the coordinator's load distributions. It is the in-process
// default; deployments that drive real traffic plug in their own Migrator.
type LoadShiftMigrator struct {
	regions *region.Coordinator

	mu    sync.Mutex
	moved map[string]map[string]float64 // record ID -> event -> exact load
	order []string
}

// NewLoadShiftMigrator creates a migrator over a coordinator.
func NewLoadShiftMigrator(regions *region.Coordinator) *LoadShiftMigrator {
	return &LoadShiftMigrator{
		regions: regions,
		moved:   make(map[string]map[string]float64),
	}
}

// Migrate implements failover.Migrator.
func (m *LoadShiftMigrator) Migrate(ctx context.Context, rec *failover.Record) error {
	for _, event := range m.regions.EventTypes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		moved, err := m.regions.ShiftLoad(event, rec.Primary(), rec.Target())
		if err != nil {
			return fmt.Errorf("shift %s load: %w", event, err)
		}
		if moved == 0 {
			continue
		}
		m.track(rec.ID(), event, moved)
		if err := rec.AddMigrationMetric(loadMetricPrefix+event, int64(math.Round(moved))); err != nil {
			return err
		}
	}
	return nil
}

// Revert implements failover.Reverter by moving the migrated load back. Each
// event moves back in one coordinator step; events already reverted are not
// moved again if a later one fails.
func (m *LoadShiftMigrator) Revert(_ context.Context, rec *failover.Record) error {
	amounts := m.amounts(rec)
	for event, amount := range amounts {
		if _, err := m.regions.MoveLoad(event, rec.Target(), rec.Primary(), amount); err != nil {
			return fmt.Errorf("revert %s load: %w", event, err)
		}
		m.untrack(rec.ID(), event)
	}
	return nil
}

func (m *LoadShiftMigrator) track(id, event string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEvent, ok := m.moved[id]
	if !ok {
		byEvent = make(map[string]float64)
		m.moved[id] = byEvent
		m.order = append(m.order, id)
		for len(m.order) > maxTrackedShifts {
			delete(m.moved, m.order[0])
			m.order = m.order[1:]
		}
	}
	byEvent[event] += amount
}

func (m *LoadShiftMigrator) untrack(id, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byEvent, ok := m.moved[id]; ok {
		byEvent[event] = 0
	}
}

// amounts returns the exact load moved per event, falling back to the
// rounded migration metrics for records no longer tracked.
func (m *LoadShiftMigrator) amounts(rec *failover.Record) map[string]float64 {
	out := make(map[string]float64)
	m.mu.Lock()
	byEvent, tracked := m.moved[rec.ID()]
	for event, amount := range byEvent {
		if amount > 0 {
			out[event] = amount
		}
	}
	m.mu.Unlock()
	if tracked {
		return out
	}

	for key, n := range rec.View().Migrations {
		if event, ok := strings.CutPrefix(key, loadMetricPrefix); ok && n > 0 {
			out[event] = float64(n)
		}
	}
	return out
}
