// Package scheduler admits plan executions into a bounded pool, queueing the
// overflow in FIFO order, with graceful drain and cooperative cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dukex/conduit/pkg/models"
)

var (
	// ErrAdmissionRejected is returned by StartPlan while draining.
	ErrAdmissionRejected = errors.New("admission rejected: scheduler is draining")

	// ErrAlreadyScheduled is returned when the instance is already running or queued.
	ErrAlreadyScheduled = errors.New("plan instance already scheduled")
)

// Execution is one schedulable plan run.
type Execution interface {
	InstanceID() int64
	Name() string
	// Start runs to completion and invokes done exactly once.
	Start(ctx context.Context, done func())
	// Cancel requests cooperative cancellation of a running execution.
	Cancel()
	// Abort finalizes an execution that never started and invokes done.
	Abort(ctx context.Context, done func()) error
	Status() models.StatusType
}

// Completion describes a finished execution.
type Completion struct {
	InstanceID int64             `json:"instance_id"`
	Name       string            `json:"name"`
	Status     models.StatusType `json:"status"`
	WasRunning bool              `json:"was_running"`
}

// Snapshot is an immutable view of the scheduler published on every change.
type Snapshot struct {
	Running  []string `json:"running"`
	Pending  []string `json:"pending"`
	Draining bool     `json:"draining"`
}

// Drained reports whether draining finished: no running or pending work.
func (s *Snapshot) Drained() bool {
	return s.Draining && len(s.Pending) == 0 && len(s.Running) == 0
}

// Key identifies an execution in queue listings.
func Key(e Execution) string {
	return fmt.Sprintf("%d_%s", e.InstanceID(), e.Name())
}

// Scheduler runs at most Capacity executions at once.
type Scheduler struct {
	ctx      context.Context
	capacity int
	logger   *slog.Logger

	mu        sync.Mutex
	running   []Execution
	pending   []Execution
	draining  bool
	listeners []func(Completion)
	changed   chan struct{}

	snapshot atomic.Pointer[Snapshot]
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a scheduler. Executions run with ctx as their parent context.
func New(ctx context.Context, capacity int, opts ...Option) *Scheduler {
	s := &Scheduler{
		ctx:      ctx,
		capacity: max(capacity, 1),
		logger:   slog.Default(),
		changed:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("module", "scheduler")
	s.publishLocked()

	return s
}

// Capacity returns the maximum number of concurrent executions.
func (s *Scheduler) Capacity() int {
	return s.capacity
}

// OnPlanCompleted registers fn, called once per finished execution.
func (s *Scheduler) OnPlanCompleted(fn func(Completion)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, fn)
}

// StartPlan admits e. It runs immediately when a slot is free and is queued
// otherwise. StartPlan never waits for the execution.
func (s *Scheduler) StartPlan(e Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draining {
		return ErrAdmissionRejected
	}

	if s.indexOf(s.running, e.InstanceID()) >= 0 || s.indexOf(s.pending, e.InstanceID()) >= 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, Key(e))
	}

	if len(s.running) < s.capacity {
		s.launchLocked(e)
	} else {
		s.pending = append(s.pending, e)
		s.logger.Info("plan queued", "plan", Key(e), "queue_depth", len(s.pending))
	}

	s.publishLocked()

	return nil
}

// CancelPlan cancels the running or queued execution with instanceID.
// A queued execution is removed and never runs. It reports whether a match
// was found.
func (s *Scheduler) CancelPlan(instanceID int64) bool {
	s.mu.Lock()

	if i := s.indexOf(s.running, instanceID); i >= 0 {
		e := s.running[i]
		s.mu.Unlock()

		s.logger.Info("cancelling running plan", "plan", Key(e))
		e.Cancel()

		return true
	}

	i := s.indexOf(s.pending, instanceID)
	if i < 0 {
		s.mu.Unlock()

		return false
	}

	e := s.pending[i]
	s.pending = slices.Delete(s.pending, i, i+1)
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Info("cancelling queued plan", "plan", Key(e))

	err := e.Abort(s.ctx, func() {
		s.notify(Completion{InstanceID: e.InstanceID(), Name: e.Name(), Status: e.Status()})
	})
	if err != nil {
		s.logger.Error("could not abort queued plan", "plan", Key(e), "error", err)
	}

	return true
}

// Drainstop stops admission. Running and queued executions proceed. It does
// not wait; use IsDrainstopComplete or WaitDrained.
func (s *Scheduler) Drainstop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draining {
		return
	}

	s.draining = true
	s.publishLocked()
	s.logger.Info("drainstop started", "running", len(s.running), "queued", len(s.pending))
}

// CancelDrainstop restores admission.
func (s *Scheduler) CancelDrainstop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.draining {
		return
	}

	s.draining = false
	s.publishLocked()
	s.logger.Info("drainstop cancelled")
}

// IsDraining reports whether admission is stopped.
func (s *Scheduler) IsDraining() bool {
	return s.snapshot.Load().Draining
}

// IsDrainstopComplete is true iff draining with nothing queued or running.
func (s *Scheduler) IsDrainstopComplete() bool {
	return s.snapshot.Load().Drained()
}

// WaitDrained blocks until IsDrainstopComplete holds or ctx ends.
func (s *Scheduler) WaitDrained(ctx context.Context) error {
	for {
		s.mu.Lock()
		drained := s.snapshot.Load().Drained()
		changed := s.changed
		s.mu.Unlock()

		if drained {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// QueueDepth returns the number of queued executions.
func (s *Scheduler) QueueDepth() int {
	return len(s.snapshot.Load().Pending)
}

// RunningCount returns the number of running executions.
func (s *Scheduler) RunningCount() int {
	return len(s.snapshot.Load().Running)
}

// CurrentQueue lists <id>_<name> of running then queued executions.
func (s *Scheduler) CurrentQueue() []string {
	snap := s.snapshot.Load()

	out := make([]string, 0, len(snap.Running)+len(snap.Pending))
	out = append(out, snap.Running...)

	return append(out, snap.Pending...)
}

// Snapshot returns the current published view.
func (s *Scheduler) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// Wait blocks until every launched execution returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) launchLocked(e Execution) {
	s.running = append(s.running, e)
	s.logger.Info("plan started", "plan", Key(e), "running", len(s.running))

	finish := sync.OnceFunc(func() { s.complete(e) })

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer finish()

		e.Start(s.ctx, finish)
	}()
}

// complete releases e's slot and dispatches queued work in the same critical
// section, then notifies listeners.
func (s *Scheduler) complete(e Execution) {
	s.mu.Lock()

	if i := s.indexOf(s.running, e.InstanceID()); i >= 0 {
		s.running = slices.Delete(s.running, i, i+1)
	}

	for len(s.running) < s.capacity && len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = slices.Delete(s.pending, 0, 1)
		s.launchLocked(next)
	}

	s.publishLocked()
	s.mu.Unlock()

	s.notify(Completion{InstanceID: e.InstanceID(), Name: e.Name(), Status: e.Status(), WasRunning: true})
}

func (s *Scheduler) notify(c Completion) {
	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Info("plan completed", "instance_id", c.InstanceID, "plan", c.Name, "status", c.Status, "was_running", c.WasRunning)

	for _, fn := range listeners {
		fn(c)
	}
}

func (s *Scheduler) indexOf(list []Execution, instanceID int64) int {
	return slices.IndexFunc(list, func(e Execution) bool { return e.InstanceID() == instanceID })
}

// publishLocked republishes the snapshot and wakes WaitDrained callers.
func (s *Scheduler) publishLocked() {
	snap := &Snapshot{
		Running:  make([]string, len(s.running)),
		Pending:  make([]string, len(s.pending)),
		Draining: s.draining,
	}

	for i, e := range s.running {
		snap.Running[i] = Key(e)
	}

	for i, e := range s.pending {
		snap.Pending[i] = Key(e)
	}

	s.snapshot.Store(snap)

	close(s.changed)
	s.changed = make(chan struct{})
}
