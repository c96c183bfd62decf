// internal/failover/record.go
package failover

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the failover state machine:
//
//	initiated -> in-progress -> completed | failed
//	completed | failed -> rolled-back
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
)

// Finished reports whether execution has ended (rollback may still follow).
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRolledBack
}

var (
	ErrEmptyRegion       = errors.New("failover: primary and failover regions are required")
	ErrSameRegion        = errors.New("failover: primary and failover regions must differ")
	ErrInvalidTransition = errors.New("failover: invalid status transition")
	ErrRecordFinished    = errors.New("failover: record is finished")
)

// ErrorEntry is one timestamped failure.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// RecordView is a read-only copy of a record.
type RecordView struct {
	ID                 string           `json:"id"`
	PrimaryRegion      string           `json:"primary_region"`
	FailoverRegion     string           `json:"failover_region"`
	Status             Status           `json:"status"`
	Reason             string           `json:"reason"`
	InitiatedAt        time.Time        `json:"initiated_at"`
	CompletedAt        time.Time        `json:"completed_at,omitempty"`
	Duration           time.Duration    `json:"duration"`
	RolledBackAt       time.Time        `json:"rolled_back_at,omitempty"`
	AffectedEvents     []string         `json:"affected_events,omitempty"`
	Migrations         map[string]int64 `json:"migrations,omitempty"`
	RevertedMigrations map[string]int64 `json:"reverted_migrations,omitempty"`
	Errors             []ErrorEntry     `json:"errors,omitempty"`
}

// Record tracks one failover from primary to failover region.
type Record struct {
	mu             sync.RWMutex
	id             string
	primary        string
	failover       string
	reason         string
	status         Status
	initiatedAt    time.Time
	completedAt    time.Time
	rolledBackAt   time.Time
	affectedEvents []string
	migrations     map[string]int64
	reverted       map[string]int64
	errors         []ErrorEntry
	now            func() time.Time
}

// NewRecord validates the regions and returns a record in StatusInitiated.
func NewRecord(primary, failover, reason string) (*Record, error) {
	return newRecord(primary, failover, reason, time.Now)
}

func newRecord(primary, failover, reason string, now func() time.Time) (*Record, error) {
	primary, failover = strings.TrimSpace(primary), strings.TrimSpace(failover)
	if primary == "" || failover == "" {
		return nil, ErrEmptyRegion
	}
	if primary == failover {
		return nil, fmt.Errorf("%w: %s", ErrSameRegion, primary)
	}
	return &Record{
		id:          uuid.NewString(),
		primary:     primary,
		failover:    failover,
		reason:      reason,
		status:      StatusInitiated,
		initiatedAt: now(),
		migrations:  make(map[string]int64),
		now:         now,
	}, nil
}

// ID returns the record identifier.
func (r *Record) ID() string { return r.id }

// Primary returns the region being failed away from.
func (r *Record) Primary() string { return r.primary }

// Target returns the region taking over.
func (r *Record) Target() string { return r.failover }

// Status returns the current status.
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// MarkInProgress moves an initiated record into execution.
func (r *Record) MarkInProgress() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusInitiated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, StatusInProgress)
	}
	r.status = StatusInProgress
	return nil
}

// AddAffectedEvent notes a named event impacted by the failover. Duplicates
// are ignored.
func (r *Record) AddAffectedEvent(eventType string) error {
	if strings.TrimSpace(eventType) == "" {
		return errors.New("failover: event type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Finished() {
		return ErrRecordFinished
	}
	for _, e := range r.affectedEvents {
		if e == eventType {
			return nil
		}
	}
	r.affectedEvents = append(r.affectedEvents, eventType)
	return nil
}

// AddMigrationMetric adds count to the migrated total for a data type.
func (r *Record) AddMigrationMetric(dataType string, count int64) error {
	if strings.TrimSpace(dataType) == "" {
		return errors.New("failover: data type is required")
	}
	if count < 0 {
		return fmt.Errorf("failover: migration count must be >= 0, got %d", count)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Finished() {
		return ErrRecordFinished
	}
	r.migrations[dataType] += count
	return nil
}

// AddError appends a timestamped error without changing the status.
func (r *Record) AddError(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Finished() {
		return ErrRecordFinished
	}
	r.errors = append(r.errors, ErrorEntry{At: r.now(), Message: message})
	return nil
}

// MarkCompleted finishes an in-progress record as completed. Errors logged
// along the way stay on the record; they do not change the outcome.
func (r *Record) MarkCompleted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, StatusCompleted)
	}
	r.status = StatusCompleted
	r.completedAt = r.now()
	return nil
}

// MarkFailed ends an initiated or in-progress record as failed.
func (r *Record) MarkFailed(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusInitiated && r.status != StatusInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, StatusFailed)
	}
	if reason != "" {
		r.errors = append(r.errors, ErrorEntry{At: r.now(), Message: reason})
	}
	r.status = StatusFailed
	r.completedAt = r.now()
	return nil
}

// Rollback reverses a finished failover. The migration counts are moved to
// the reverted set; the original counts are kept for the audit trail.
func (r *Record) Rollback(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusCompleted && r.status != StatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, StatusRolledBack)
	}
	r.reverted = make(map[string]int64, len(r.migrations))
	for k, v := range r.migrations {
		r.reverted[k] = v
	}
	msg := "rolled back"
	if reason != "" {
		msg += ": " + reason
	}
	r.errors = append(r.errors, ErrorEntry{At: r.now(), Message: msg})
	r.status = StatusRolledBack
	r.rolledBackAt = r.now()
	return nil
}

// Duration is CompletedAt - InitiatedAt, or zero while running.
func (r *Record) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.completedAt.IsZero() {
		return 0
	}
	return r.completedAt.Sub(r.initiatedAt)
}

// View returns a copy safe to share or serialize.
func (r *Record) View() RecordView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := RecordView{
		ID:             r.id,
		PrimaryRegion:  r.primary,
		FailoverRegion: r.failover,
		Status:         r.status,
		Reason:         r.reason,
		InitiatedAt:    r.initiatedAt,
		CompletedAt:    r.completedAt,
		RolledBackAt:   r.rolledBackAt,
		AffectedEvents: append([]string(nil), r.affectedEvents...),
		Migrations:     make(map[string]int64, len(r.migrations)),
		Errors:         append([]ErrorEntry(nil), r.errors...),
	}
	for k, n := range r.migrations {
		v.Migrations[k] = n
	}
	if r.reverted != nil {
		v.RevertedMigrations = make(map[string]int64, len(r.reverted))
		for k, n := range r.reverted {
			v.RevertedMigrations[k] = n
		}
	}
	if !r.completedAt.IsZero() {
		v.Duration = r.completedAt.Sub(r.initiatedAt)
	}
	return v
}
