package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/eapache/queue"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultReportAttempts = 5
	DefaultReportDelay    = 500 * time.Millisecond
)

// ControllerClient reports plan and action status to a controller rooted at
// its base url (…/controller). As an execution.Reporter it queues every
// report and sends them in order from one goroutine, retrying each with a
// constant backoff; a report that still fails is logged and dropped.
type ControllerClient struct {
	base

	logger   *slog.Logger
	attempts uint64
	delay    time.Duration

	mu      sync.Mutex
	pending *queue.Queue
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

type report struct {
	path string
	body any
}

// ReportOption tunes the delivery of queued reports.
type ReportOption func(*ControllerClient)

// WithRetry sets how many times a report is attempted and the delay between attempts.
func WithRetry(attempts int, delay time.Duration) ReportOption {
	return func(c *ControllerClient) {
		if attempts > 0 {
			c.attempts = uint64(attempts)
		}

		c.delay = delay
	}
}

func NewControllerClient(controllerURL string, logger *slog.Logger, opts []Option, reportOpts ...ReportOption) *ControllerClient {
	ctx, cancel := context.WithCancel(context.Background())

	c := &ControllerClient{
		base:     newBase(controllerURL, opts),
		logger:   logger.With("module", "controller_client", "controller", controllerURL),
		attempts: DefaultReportAttempts,
		delay:    DefaultReportDelay,
		pending:  queue.New(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range reportOpts {
		opt(c)
	}

	go c.loop()

	return c
}

// SetPlanStatus records a plan status document synchronously.
func (c *ControllerClient) SetPlanStatus(ctx context.Context, plan *models.Plan) error {
	body, err := jsonBody(plan)
	if err != nil {
		return err
	}

	return c.do(ctx, http.MethodPost, planStatusPath(plan.UniqueName, plan.InstanceID), nil, "application/json", body, nil)
}

// SetPlanActionStatus records an action delta synchronously.
func (c *ControllerClient) SetPlanActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	body, err := jsonBody(action)
	if err != nil {
		return err
	}

	return c.do(ctx, http.MethodPost, planStatusPath(uniqueName, instanceID)+"/action", nil, "application/json", body, nil)
}

// GetPlanStatus fetches the persisted status of an instance.
func (c *ControllerClient) GetPlanStatus(ctx context.Context, uniqueName string, instanceID int64) (*models.Plan, error) {
	var plan models.Plan

	err := c.do(ctx, http.MethodGet, planStatusPath(uniqueName, instanceID), nil, "", nil, &plan)
	if err != nil {
		return nil, err
	}

	return &plan, nil
}

// ReportPlanStatus implements execution.Reporter.
func (c *ControllerClient) ReportPlanStatus(ctx context.Context, plan *models.Plan) {
	c.enqueue(ctx, report{path: planStatusPath(plan.UniqueName, plan.InstanceID), body: plan.Clone()})
}

// ReportActionStatus implements execution.Reporter.
func (c *ControllerClient) ReportActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) {
	c.enqueue(ctx, report{path: planStatusPath(uniqueName, instanceID) + "/action", body: action.Clone()})
}

func (c *ControllerClient) enqueue(ctx context.Context, r report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.WarnContext(ctx, "report dropped, client closed", "path", r.path)

		return
	}

	c.pending.Add(r)

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of reports not yet sent.
func (c *ControllerClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending.Length()
}

// Close stops accepting reports and waits for queued ones to be sent. When
// ctx ends first, in-flight retries are abandoned.
func (c *ControllerClient) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true

		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		c.cancel()

		return nil
	case <-ctx.Done():
		c.cancel()
		<-c.done

		return ctx.Err()
	}
}

func (c *ControllerClient) loop() {
	defer close(c.done)

	for {
		c.mu.Lock()

		if c.pending.Length() == 0 {
			closed := c.closed
			c.mu.Unlock()

			if closed {
				return
			}

			<-c.wake

			continue
		}

		r := c.pending.Remove().(report)
		c.mu.Unlock()

		c.send(r)
	}
}

func (c *ControllerClient) send(r report) {
	backoff := retry.WithMaxRetries(c.attempts-1, retry.NewConstant(max(c.delay, time.Millisecond)))

	err := retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		body, err := jsonBody(r.body)
		if err != nil {
			return err
		}

		err = c.do(ctx, http.MethodPost, r.path, nil, "application/json", body, nil)
		if err == nil {
			return nil
		}

		if code := StatusCode(err); code >= http.StatusBadRequest && code < http.StatusInternalServerError {
			return err
		}

		return retry.RetryableError(err)
	})
	if err != nil {
		c.logger.ErrorContext(c.ctx, "failed to deliver status report", "path", r.path, "error", err)
	}
}

func planStatusPath(uniqueName string, instanceID int64) string {
	return fmt.Sprintf("/plans/%s/instances/%d", url.PathEscape(uniqueName), instanceID)
}
