// internal/syncsched/scheduler.go
package syncsched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/regioncoord/internal/audit"
	"github.com/FairForge/regioncoord/internal/opt"
	"go.uber.org/zap"
)

var (
	ErrEmptyCategory     = errors.New("syncsched: category is required")
	ErrDuplicateCategory = errors.New("syncsched: category already has a policy")
	ErrUnknownCategory   = errors.New("syncsched: no policy for category")
	ErrPolicyDisabled    = errors.New("syncsched: policy is disabled")
)

// Task is a category whose policy says it should be reconciled now.
type Task struct {
	Category string        `json:"category"`
	PolicyID string        `json:"policy_id"`
	Type     SyncType      `json:"type"`
	Priority Priority      `json:"priority"`
	Overdue  time.Duration `json:"overdue"`
}

// Scheduler holds one sync policy per data category and tracks when each
// category last ran.
type Scheduler struct {
	mu       sync.RWMutex
	policies map[string]*SyncPolicy
	lastRun  map[string]time.Time
	sink     audit.Sink
	logger   *zap.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler publishing finished results to sink.
func NewScheduler(sink audit.Sink, logger *zap.Logger) *Scheduler {
	if sink == nil {
		sink = audit.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		policies: make(map[string]*SyncPolicy),
		lastRun:  make(map[string]time.Time),
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Register attaches a policy to a data category.
func (s *Scheduler) Register(category string, policy *SyncPolicy) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return ErrEmptyCategory
	}
	if policy == nil {
		return errors.New("syncsched: policy is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[category]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCategory, category)
	}
	s.policies[category] = policy
	return nil
}

// Policy returns the policy of a category.
func (s *Scheduler) Policy(category string) (*SyncPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[category]
	return p, ok
}

// Categories returns the registered categories, sorted.
func (s *Scheduler) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.policies))
	for c := range s.policies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Due lists enabled, non on-demand categories whose interval has elapsed,
// highest effective priority first.
func (s *Scheduler) Due(event opt.Option[string]) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var tasks []Task
	for category, p := range s.policies {
		if !p.Enabled() || p.Type() == SyncOnDemand {
			continue
		}
		interval := p.Interval()
		last, ran := s.lastRun[category]
		var overdue time.Duration
		if ran {
			elapsed := now.Sub(last)
			if elapsed < interval {
				continue
			}
			overdue = elapsed - interval
		}
		tasks = append(tasks, Task{
			Category: category,
			PolicyID: p.ID(),
			Type:     p.Type(),
			Priority: p.GetEffectivePriority(event),
			Overdue:  overdue,
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
			return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
		}
		if tasks[i].Overdue != tasks[j].Overdue {
			return tasks[i].Overdue > tasks[j].Overdue
		}
		return tasks[i].Category < tasks[j].Category
	})
	return tasks
}

// Begin starts a run for a category. Disabled policies cannot start runs.
func (s *Scheduler) Begin(category, source, target string) (*SyncResult, error) {
	s.mu.RLock()
	p, ok := s.policies[category]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if !p.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrPolicyDisabled, p.ID())
	}

	r, err := newResult(category, source, target, s.now)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sync started",
		zap.String("id", r.ID()),
		zap.String("category", category),
		zap.String("source", source),
		zap.String("target", target))
	return r, nil
}

// Finish completes the run if still open, stamps the category's last run
// and publishes the result to the audit sink.
func (s *Scheduler) Finish(ctx context.Context, r *SyncResult) (ResultStatus, error) {
	status := r.Status()
	if !status.Terminal() {
		var err error
		status, err = r.Complete()
		if err != nil {
			return status, err
		}
	}

	view := r.View()
	s.mu.Lock()
	s.lastRun[view.Category] = view.CompletedAt
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("id", view.ID),
		zap.String("category", view.Category),
		zap.String("status", string(view.Status)),
		zap.Duration("duration", view.Duration),
		zap.Int64("bytes", view.BytesMigrated),
		zap.Int("errors", len(view.Errors)),
	}
	if status == StatusSuccess {
		s.logger.Info("sync finished", fields...)
	} else {
		s.logger.Warn("sync finished with errors", fields...)
	}

	entry, err := audit.NewEntry(audit.KindSyncResult, view.ID, string(view.Status), view)
	if err != nil {
		return status, err
	}
	if err := s.sink.Append(ctx, entry); err != nil {
		return status, fmt.Errorf("publish sync result: %w", err)
	}
	return status, nil
}

// LastRun returns when a category last finished.
func (s *Scheduler) LastRun(category string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastRun[category]
	return t, ok
}
