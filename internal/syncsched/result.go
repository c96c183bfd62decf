// internal/syncsched/result.go
package syncsched

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResultStatus tracks a sync run.
type ResultStatus string

const (
	StatusPending        ResultStatus = "pending"
	StatusInProgress     ResultStatus = "in-progress"
	StatusSuccess        ResultStatus = "success"
	StatusFailed         ResultStatus = "failed"
	StatusPartialFailure ResultStatus = "partial-failure"
	StatusCancelled      ResultStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ResultStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPartialFailure, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrEmptyRegion    = errors.New("syncsched: source and target regions are required")
	ErrSameRegion     = errors.New("syncsched: source and target regions must differ")
	ErrResultFinished = errors.New("syncsched: result already finished")
	ErrBadTransition  = errors.New("syncsched: invalid status transition")
)

// ErrorEntry is one timestamped failure in a run.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// ResultView is a read-only copy of a result.
type ResultView struct {
	ID            string           `json:"id"`
	Category      string           `json:"category"`
	SourceRegion  string           `json:"source_region"`
	TargetRegion  string           `json:"target_region"`
	Status        ResultStatus     `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at,omitempty"`
	Duration      time.Duration    `json:"duration"`
	BytesMigrated int64            `json:"bytes_migrated"`
	RecordCounts  map[string]int64 `json:"record_counts,omitempty"`
	Errors        []ErrorEntry     `json:"errors,omitempty"`
}

// SyncResult records one reconciliation run between two regions.
// The error log is append-only.
type SyncResult struct {
	mu            sync.RWMutex
	id            string
	category      string
	source        string
	target        string
	status        ResultStatus
	startedAt     time.Time
	completedAt   time.Time
	bytesMigrated int64
	recordCounts  map[string]int64
	errors        []ErrorEntry
	now           func() time.Time
}

// NewResult creates a pending result.
func NewResult(category, source, target string) (*SyncResult, error) {
	return newResult(category, source, target, time.Now)
}

func newResult(category, source, target string, now func() time.Time) (*SyncResult, error) {
	source, target = strings.TrimSpace(source), strings.TrimSpace(target)
	if source == "" || target == "" {
		return nil, ErrEmptyRegion
	}
	if source == target {
		return nil, fmt.Errorf("%w: %s", ErrSameRegion, source)
	}
	return &SyncResult{
		id:           uuid.NewString(),
		category:     category,
		source:       source,
		target:       target,
		status:       StatusPending,
		startedAt:    now(),
		recordCounts: make(map[string]int64),
		now:          now,
	}, nil
}

// ID returns the result identifier.
func (r *SyncResult) ID() string { return r.id }

// Status returns the current status.
func (r *SyncResult) Status() ResultStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// MarkInProgress moves a pending result to in-progress.
func (r *SyncResult) MarkInProgress() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, r.status, StatusInProgress)
	}
	r.status = StatusInProgress
	return nil
}

// AddRecords adds to the record count for a data category.
func (r *SyncResult) AddRecords(category string, n int64) error {
	if n < 0 {
		return fmt.Errorf("syncsched: record count must be >= 0, got %d", n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrResultFinished
	}
	r.recordCounts[category] += n
	return nil
}

// AddBytes adds to the migrated byte count.
func (r *SyncResult) AddBytes(n int64) error {
	if n < 0 {
		return fmt.Errorf("syncsched: byte count must be >= 0, got %d", n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrResultFinished
	}
	r.bytesMigrated += n
	return nil
}

// AddError appends a timestamped error.
func (r *SyncResult) AddError(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrResultFinished
	}
	r.errors = append(r.errors, ErrorEntry{At: r.now(), Message: message})
	return nil
}

// Complete finishes the run. With no errors it succeeds; with errors it is a
// partial failure if any records moved and a failure otherwise.
func (r *SyncResult) Complete() (ResultStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return r.status, ErrResultFinished
	}

	var moved int64
	for _, n := range r.recordCounts {
		moved += n
	}

	switch {
	case len(r.errors) == 0:
		r.status = StatusSuccess
	case moved > 0 || r.bytesMigrated > 0:
		r.status = StatusPartialFailure
	default:
		r.status = StatusFailed
	}
	r.completedAt = r.now()
	return r.status, nil
}

// Cancel stops a run that has not finished.
func (r *SyncResult) Cancel(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrResultFinished
	}
	if reason != "" {
		r.errors = append(r.errors, ErrorEntry{At: r.now(), Message: "cancelled: " + reason})
	}
	r.status = StatusCancelled
	r.completedAt = r.now()
	return nil
}

// View returns a copy safe to share or serialize.
func (r *SyncResult) View() ResultView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64, len(r.recordCounts))
	for k, v := range r.recordCounts {
		counts[k] = v
	}
	errs := make([]ErrorEntry, len(r.errors))
	copy(errs, r.errors)

	v := ResultView{
		ID:            r.id,
		Category:      r.category,
		SourceRegion:  r.source,
		TargetRegion:  r.target,
		Status:        r.status,
		StartedAt:     r.startedAt,
		CompletedAt:   r.completedAt,
		BytesMigrated: r.bytesMigrated,
		RecordCounts:  counts,
		Errors:        errs,
	}
	if !r.completedAt.IsZero() {
		v.Duration = r.completedAt.Sub(r.startedAt)
	}
	return v
}
