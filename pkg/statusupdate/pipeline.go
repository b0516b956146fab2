// Package statusupdate serializes plan and action status writes in front of
// the persistence gateway, retrying failures and parking exhausted items in a
// dead-letter buffer.
package statusupdate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxRetryAttempts is the number of failed attempts after which an item is
// dead-lettered.
const MaxRetryAttempts = 5

// DefaultExceptionLimit bounds the exception ring of each kind.
const DefaultExceptionLimit = 1024

// Pipeline owns one FIFO queue and one consumer goroutine per Kind.
type Pipeline struct {
	gateway      persistence.Gateway
	logger       *slog.Logger
	tracer       trace.Tracer
	onDeadLetter func(UpdateItem)
	lanes        map[Kind]*lane

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithTracer sets the tracer used for persistence attempts.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = tracer }
}

// WithDeadLetterObserver registers fn, called once per dead-lettered item.
func WithDeadLetterObserver(fn func(UpdateItem)) Option {
	return func(p *Pipeline) { p.onDeadLetter = fn }
}

// WithExceptionLimit bounds each kind's exception ring.
func WithExceptionLimit(limit int) Option {
	return func(p *Pipeline) {
		for kind := range p.lanes {
			p.lanes[kind] = newLane(kind, max(limit, 1))
		}
	}
}

// New builds a pipeline over gateway. Nothing is processed until Start.
func New(gateway persistence.Gateway, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway: gateway,
		logger:  slog.Default(),
		tracer:  otelhelper.Tracer("conduit/statusupdate"),
		lanes:   make(map[Kind]*lane, len(Kinds)),
	}

	for _, kind := range Kinds {
		p.lanes[kind] = newLane(kind, DefaultExceptionLimit)
	}

	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With("module", "statusupdate")

	return p
}

// Start launches exactly one consumer per kind. Calling Start on a running
// pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running.Store(true)

	for _, kind := range Kinds {
		l := p.lanes[kind]

		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			p.consume(ctx, l)
		}()
	}

	p.logger.InfoContext(ctx, "status update pipeline started")
}

// Stop cancels the consumers and waits for them to return. Items still queued
// stay queued and are processed by a later Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running.Store(false)

	p.logger.Info("status update pipeline stopped")
}

// WaitIdle blocks until every queue is empty with nothing in flight, or ctx ends.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		idle := true

		for _, l := range p.lanes {
			if !l.idle() {
				idle = false

				break
			}
		}

		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EnqueuePlan queues a plan-level status document and returns the item id.
// It never blocks on persistence.
func (p *Pipeline) EnqueuePlan(plan *models.Plan) string {
	item := &UpdateItem{
		ID:         uuid.NewString(),
		Kind:       KindPlan,
		Plan:       plan.Clone(),
		EnqueuedAt: time.Now(),
	}

	p.lanes[KindPlan].push(item)

	return item.ID
}

// EnqueueAction queues an action delta and returns the item id. It never
// blocks on persistence.
func (p *Pipeline) EnqueueAction(uniqueName string, instanceID int64, action *models.ActionItem) string {
	item := &UpdateItem{
		ID:             uuid.NewString(),
		Kind:           KindAction,
		PlanUniqueName: uniqueName,
		PlanInstanceID: instanceID,
		Action:         action.Clone(),
		EnqueuedAt:     time.Now(),
	}

	p.lanes[KindAction].push(item)

	return item.ID
}

// QueueDepth returns the number of items waiting for kind.
func (p *Pipeline) QueueDepth(kind Kind) int {
	l, ok := p.lanes[kind]
	if !ok {
		return 0
	}

	return l.depth()
}

// Exceptions returns the recorded failures of kind, oldest first.
func (p *Pipeline) Exceptions(kind Kind) []Failure {
	l, ok := p.lanes[kind]
	if !ok {
		return nil
	}

	return l.exceptionList()
}

// DeadLetters returns the dead-lettered items of kind.
func (p *Pipeline) DeadLetters(kind Kind) []UpdateItem {
	l, ok := p.lanes[kind]
	if !ok {
		return nil
	}

	return l.deadLetterList()
}

// Redrive moves every dead letter of kind back to its queue with a fresh
// retry budget and returns how many were moved.
func (p *Pipeline) Redrive(kind Kind) int {
	l, ok := p.lanes[kind]
	if !ok {
		return 0
	}

	n := l.redrive()
	if n > 0 {
		p.logger.Info("redriving dead letters", "kind", kind, "count", n)
	}

	return n
}

// RedriveAll redrives every kind.
func (p *Pipeline) RedriveAll() int {
	total := 0
	for _, kind := range Kinds {
		total += p.Redrive(kind)
	}

	return total
}

// Stats summarizes all queues.
func (p *Pipeline) Stats() Stats {
	stats := Stats{Running: p.running.Load(), Kinds: make(map[Kind]KindStats, len(p.lanes))}
	for kind, l := range p.lanes {
		stats.Kinds[kind] = l.stats()
	}

	return stats
}

func (p *Pipeline) consume(ctx context.Context, l *lane) {
	for {
		item, ok := l.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}

		p.process(ctx, l, item)

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) process(ctx context.Context, l *lane, item *UpdateItem) {
	name, instanceID := item.Target()

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "statusupdate.persist",
		attribute.String(otelhelper.UpdateIDKey, item.ID),
		attribute.String(otelhelper.UpdateKindKey, string(item.Kind)),
		attribute.String(otelhelper.PlanNameKey, name),
		attribute.Int64(otelhelper.PlanInstanceIDKey, instanceID),
		attribute.Int(otelhelper.UpdateAttemptKey, item.RetryAttempts+1),
	)
	defer span.End()

	err := p.persist(ctx, item)
	if err == nil {
		l.succeeded()

		return
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		l.requeue(item)

		return
	}

	otelhelper.SetError(span, err)

	item.RetryAttempts++
	snapshot := item.clone()
	failure := Failure{
		Item:    snapshot,
		Error:   err.Error(),
		Attempt: item.RetryAttempts,
		At:      time.Now(),
	}

	logger := p.logger.With("id", item.ID, "kind", item.Kind, "plan", name, "instance_id", instanceID,
		"attempt", item.RetryAttempts, "error", err)

	if !l.failed(item, failure) {
		logger.WarnContext(ctx, "status update failed, retrying")

		return
	}

	defer l.release()

	logger.ErrorContext(ctx, "status update dead-lettered")

	if p.onDeadLetter != nil {
		p.onDeadLetter(snapshot)
	}
}

func (p *Pipeline) persist(ctx context.Context, item *UpdateItem) error {
	switch item.Kind {
	case KindPlan:
		return p.gateway.UpdatePlanStatus(ctx, item.Plan)
	case KindAction:
		return p.gateway.UpdatePlanActionStatus(ctx, item.PlanUniqueName, item.PlanInstanceID, item.Action)
	default:
		return fmt.Errorf("unknown update kind %q", item.Kind)
	}
}
