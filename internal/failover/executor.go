// internal/failover/executor.go
package failover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FairForge/regioncoord/internal/audit"
	"go.uber.org/zap"
)

var (
	ErrEndpointBusy   = errors.New("failover: a failover is already in flight for this region")
	ErrUnknownRecord  = errors.New("failover: record not found")
	ErrNotRunning     = errors.New("failover: record is not running")
	ErrExecutorClosed = errors.New("failover: executor is shut down")
)

// Migrator moves responsibility from rec.Primary() to rec.Target(). It reports
// progress through rec (AddMigrationMetric, AddError) and must return when ctx
// is done. A nil error completes the failover.
type Migrator interface {
	Migrate(ctx context.Context, rec *Record) error
}

// MigratorFunc adapts a function to Migrator.
type MigratorFunc func(ctx context.Context, rec *Record) error

// Migrate calls f.
func (f MigratorFunc) Migrate(ctx context.Context, rec *Record) error {
	return f(ctx, rec)
}

// Reverter is implemented by migrators that can undo a finished failover.
type Reverter interface {
	Revert(ctx context.Context, rec *Record) error
}

// ExecutorConfig configures an executor.
type ExecutorConfig struct {
	MaxDuration time.Duration
	MaxRecords  int
	Sink        audit.Sink
	Logger      *zap.Logger
	// OnFinish is called once per record after it leaves in-progress.
	OnFinish func(RecordView)
}

// DefaultMaxDuration bounds a failover when none is configured.
const DefaultMaxDuration = 5 * time.Minute

type run struct {
	rec         *Record
	cancel      context.CancelFunc
	done        chan struct{}
	rollingBack bool
}

// Executor runs failovers in the background, one at a time per region.
type Executor struct {
	mu       sync.Mutex
	migrator Migrator
	cfg      ExecutorConfig
	busy     map[string]string // region -> record ID
	runs     map[string]*run
	order    []string
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(m Migrator, cfg ExecutorConfig) (*Executor, error) {
	if m == nil {
		return nil, errors.New("failover: migrator is required")
	}
	if cfg.MaxDuration < 0 {
		return nil, fmt.Errorf("failover: max duration must be positive, got %s", cfg.MaxDuration)
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 1000
	}
	if cfg.Sink == nil {
		cfg.Sink = audit.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Executor{
		migrator: m,
		cfg:      cfg,
		busy:     make(map[string]string),
		runs:     make(map[string]*run),
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// Execute validates the request, reserves both regions and starts the
// failover in the background. The returned record is live; use Wait to
// observe completion. ctx only scopes the start: cancelling it does not
// cancel the running failover (use Cancel).
func (e *Executor) Execute(ctx context.Context, primary, target, reason string, affectedEvents ...string) (*Record, error) {
	rec, err := newRecord(primary, target, reason, e.now)
	if err != nil {
		return nil, err
	}
	for _, ev := range affectedEvents {
		if err := rec.AddAffectedEvent(ev); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	for _, r := range []string{rec.Primary(), rec.Target()} {
		if id, ok := e.busy[r]; ok {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %s (record %s)", ErrEndpointBusy, r, id)
		}
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.MaxDuration)
	rn := &run{rec: rec, cancel: cancel, done: make(chan struct{})}
	e.busy[rec.Primary()] = rec.ID()
	e.busy[rec.Target()] = rec.ID()
	e.runs[rec.ID()] = rn
	e.order = append(e.order, rec.ID())
	e.trimLocked()
	e.wg.Add(1)
	e.mu.Unlock()

	e.publish(ctx, rec.View())
	e.logger.Info("failover initiated",
		zap.String("id", rec.ID()),
		zap.String("primary", rec.Primary()),
		zap.String("target", rec.Target()),
		zap.String("reason", reason))

	go e.execute(runCtx, rn)
	return rec, nil
}

func (e *Executor) execute(ctx context.Context, rn *run) {
	defer e.wg.Done()
	defer close(rn.done)
	defer rn.cancel()

	rec := rn.rec
	if err := rec.MarkInProgress(); err != nil {
		e.logger.Error("failover could not start", zap.String("id", rec.ID()), zap.Error(err))
		e.finish(rn)
		return
	}

	result := make(chan error, 1)
	go func() {
		result <- e.migrator.Migrate(ctx, rec)
	}()

	// Both endpoints stay reserved until the migrator has returned, even
	// past the deadline.
	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		e.logger.Warn("failover stopped, waiting for migrator to return",
			zap.String("id", rec.ID()),
			zap.Error(ctx.Err()))
		err = <-result
	}

	switch {
	case ctx.Err() != nil:
		e.failFromContext(ctx, rec)
	case err != nil:
		_ = rec.MarkFailed(err.Error())
	default:
		_ = rec.MarkCompleted()
	}
	e.finish(rn)
}

func (e *Executor) failFromContext(ctx context.Context, rec *Record) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		_ = rec.MarkFailed(fmt.Sprintf("timeout: failover exceeded %s", e.cfg.MaxDuration))
		return
	}
	_ = rec.MarkFailed("cancelled")
}

func (e *Executor) finish(rn *run) {
	rec := rn.rec

	e.mu.Lock()
	for _, r := range []string{rec.Primary(), rec.Target()} {
		if e.busy[r] == rec.ID() {
			delete(e.busy, r)
		}
	}
	e.mu.Unlock()

	view := rec.View()
	fields := []zap.Field{
		zap.String("id", view.ID),
		zap.String("primary", view.PrimaryRegion),
		zap.String("target", view.FailoverRegion),
		zap.String("status", string(view.Status)),
		zap.Duration("duration", view.Duration),
		zap.Int("errors", len(view.Errors)),
	}
	if view.Status == StatusCompleted {
		e.logger.Info("failover completed", fields...)
	} else {
		e.logger.Error("failover failed", fields...)
	}

	e.publish(context.Background(), view)
	if e.cfg.OnFinish != nil {
		e.cfg.OnFinish(view)
	}
}

func (e *Executor) publish(ctx context.Context, view RecordView) {
	entry, err := audit.NewEntry(audit.KindFailoverRecord, view.ID, string(view.Status), view)
	if err == nil {
		err = e.cfg.Sink.Append(ctx, entry)
	}
	if err != nil {
		e.logger.Error("failed to publish failover record",
			zap.String("id", view.ID),
			zap.String("status", string(view.Status)),
			zap.Error(err))
	}
}

// trimLocked drops the oldest finished records beyond MaxRecords.
func (e *Executor) trimLocked() {
	excess := len(e.order) - e.cfg.MaxRecords
	if excess <= 0 {
		return
	}
	kept := e.order[:0]
	for _, id := range e.order {
		rn := e.runs[id]
		if excess > 0 && rn.rec.Status().Finished() {
			delete(e.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}

// Wait blocks until the failover leaves in-progress or ctx is done.
func (e *Executor) Wait(ctx context.Context, id string) (RecordView, error) {
	e.mu.Lock()
	rn, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return RecordView{}, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}

	select {
	case <-rn.done:
		return rn.rec.View(), nil
	case <-ctx.Done():
		return rn.rec.View(), ctx.Err()
	}
}

// Cancel stops a running failover; the record ends as failed.
func (e *Executor) Cancel(id string) error {
	e.mu.Lock()
	rn, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	select {
	case <-rn.done:
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	default:
	}
	rn.cancel()
	return nil
}

// Rollback reverses a finished failover. If the migrator implements Reverter
// it is asked to undo the work first; a revert error leaves the record as is.
// Only one rollback of a record runs at a time, and only from completed or
// failed.
func (e *Executor) Rollback(ctx context.Context, id, reason string) (RecordView, error) {
	rn, err := e.reserveRollback(id)
	if err != nil {
		return RecordView{}, err
	}
	defer func() {
		e.mu.Lock()
		rn.rollingBack = false
		e.mu.Unlock()
	}()

	if rv, ok := e.migrator.(Reverter); ok {
		if err := rv.Revert(ctx, rn.rec); err != nil {
			return rn.rec.View(), fmt.Errorf("revert failover %s: %w", id, err)
		}
	}
	if err := rn.rec.Rollback(reason); err != nil {
		return rn.rec.View(), err
	}

	view := rn.rec.View()
	e.logger.Warn("failover rolled back", zap.String("id", id), zap.String("reason", reason))
	e.publish(ctx, view)
	return view, nil
}

func (e *Executor) reserveRollback(id string) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rn, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	select {
	case <-rn.done:
	default:
		return nil, fmt.Errorf("%w: %s still running", ErrInvalidTransition, id)
	}
	if rn.rollingBack {
		return nil, fmt.Errorf("%w: %s is already rolling back", ErrInvalidTransition, id)
	}
	if st := rn.rec.Status(); st != StatusCompleted && st != StatusFailed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st, StatusRolledBack)
	}
	rn.rollingBack = true
	return rn, nil
}

// Get returns a record by ID.
func (e *Executor) Get(id string) (*Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rn, ok := e.runs[id]
	if !ok {
		return nil, false
	}
	return rn.rec, true
}

// Active returns the records still executing, oldest first.
func (e *Executor) Active() []RecordView {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []RecordView
	for _, id := range e.order {
		rn := e.runs[id]
		select {
		case <-rn.done:
		default:
			out = append(out, rn.rec.View())
		}
	}
	return out
}

// Records returns every retained record, newest first.
func (e *Executor) Records() []RecordView {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RecordView, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.runs[id].rec.View())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].InitiatedAt.After(out[j].InitiatedAt) })
	return out
}

// Busy reports whether a failover touching the region is in flight.
func (e *Executor) Busy(region string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.busy[region]
	return ok
}

// Shutdown cancels running failovers and waits for them to record their
// outcome, or for ctx to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, rn := range e.runs {
		rn.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
