package web_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/execution"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/node"
	"github.com/dukex/conduit/pkg/registry"
	"github.com/dukex/conduit/pkg/runner"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"
)

const (
	statusTimeout = 5 * time.Second
	pollInterval  = 20 * time.Millisecond
)

type response struct {
	status  int
	body    string
	headers http.Header
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string, headers map[string]string) response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return response{status: resp.StatusCode, body: string(payload), headers: resp.Header}
}

func newRunner() *runner.Runner {
	reg := registry.NewRegistry(slog.Default())
	reg.RegisterDefaultActions()

	return runner.New(reg, slog.Default())
}

func logPlan(name string) *models.Plan {
	return &models.Plan{
		Name: name,
		Actions: []*models.ActionItem{
			{Name: "greet", Handler: models.HandlerInfo{Type: "log", Config: map[string]any{"message": "hello {{ .params.who }}"}}},
		},
	}
}

func waitPlan(name string) *models.Plan {
	return &models.Plan{
		Name: name,
		Actions: []*models.ActionItem{
			{Name: "pause", Handler: models.HandlerInfo{Type: "wait", Config: map[string]any{"duration": "30s"}}},
		},
	}
}

func encodePlan(t *testing.T, plan *models.Plan) string {
	t.Helper()

	encoded, err := models.EncodePlan(plan)
	require.NoError(t, err)

	return encoded
}

type recordingReporter struct {
	mu    sync.Mutex
	plans []*models.Plan
}

func (r *recordingReporter) ReportPlanStatus(_ context.Context, plan *models.Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plans = append(r.plans, plan.Clone())
}

func (r *recordingReporter) ReportActionStatus(context.Context, string, int64, *models.ActionItem) {}

func (r *recordingReporter) last() *models.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.plans) == 0 {
		return nil
	}

	return r.plans[len(r.plans)-1]
}

func (r *recordingReporter) latest(instanceID int64) *models.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.plans) - 1; i >= 0; i-- {
		if r.plans[i].InstanceID == instanceID {
			return r.plans[i]
		}
	}

	return nil
}

func newNodeService(t *testing.T, opts ...node.Option) *node.Service {
	t.Helper()

	s, err := node.NewService(t.Context(), node.Config{NodeID: "node-a", MaxConcurrency: 1}, newRunner(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = s.Close(ctx)
	})

	return s
}

func recordingReporterFactory(reporter *recordingReporter) node.ReporterFactory {
	return func(node.StartRequest) (execution.Reporter, func(context.Context) error, error) {
		return reporter, func(context.Context) error { return nil }, nil
	}
}
