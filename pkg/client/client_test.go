package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeClient_StartPlan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/node/7", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("dryRun"))
		assert.Equal(t, "eu", r.URL.Query().Get("region"))
		assert.Equal(t, "Basic abc", r.Header.Get("Authorization"))
		assert.Equal(t, "http://ctl:8080/controller/plans/deploy/start", r.Header.Get("Referer"))

		body, _ := io.ReadAll(r.Body)
		plan, err := models.DecodePlan(string(body))
		assert.NoError(t, err)
		assert.Equal(t, "deploy", plan.Name)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewNodeClient(server.URL,
		WithAuthorization("Basic abc"),
		WithReferrer("http://ctl:8080/controller/plans/deploy/start"))

	err := c.StartPlan(context.Background(), 7, &models.Plan{Name: "deploy"}, true, map[string]string{"region": "eu"})
	require.NoError(t, err)
}

func TestNodeClient_StartPlanWithParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/node/7/p", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		envelope, err := models.DecodeEnvelope(string(body))
		assert.NoError(t, err)
		assert.Equal(t, "eu", envelope.DynamicParameters["Region"])
	}))
	defer server.Close()

	err := NewNodeClient(server.URL).StartPlanWithParameters(context.Background(), 7, &models.StartPlanEnvelope{
		Plan:              &models.Plan{Name: "deploy"},
		DynamicParameters: map[string]string{"Region": "eu"},
	}, false)
	require.NoError(t, err)
}

func TestNodeClient_ProblemDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"about:blank","title":"Service Unavailable","status":503,"detail":"node is draining"}`))
	}))
	defer server.Close()

	err := NewNodeClient(server.URL).StartPlan(context.Background(), 1, &models.Plan{Name: "p"}, false, nil)
	require.ErrorIs(t, err, ErrRemote)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Contains(t, err.Error(), "node is draining")
}

func TestNodeClient_CancelAndIntrospection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /node/1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /node/2", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /node/queue/count", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("3"))
	})
	mux.HandleFunc("GET /node/queue", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["1_a","2_b"]`))
	})
	mux.HandleFunc("GET /node/drainstop", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("shutdown"))
	})
	mux.HandleFunc("GET /node/drainstop/iscomplete", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("true"))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewNodeClient(server.URL)
	ctx := context.Background()

	cancelled, err := c.CancelPlan(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = c.CancelPlan(ctx, 2)
	require.NoError(t, err)
	assert.False(t, cancelled)

	depth, err := c.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	items, err := c.QueueItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_a", "2_b"}, items)

	require.NoError(t, c.Drainstop(ctx, true))

	complete, err := c.IsDrainstopComplete(ctx)
	require.NoError(t, err)
	assert.True(t, complete)
}

type recordedReport struct {
	path string
	body map[string]any
}

func TestControllerClient_ReportsInOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		reports []recordedReport
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		assert.Equal(t, "Basic abc", r.Header.Get("Authorization"))

		mu.Lock()
		reports = append(reports, recordedReport{path: r.URL.Path, body: body})
		mu.Unlock()
	}))
	defer server.Close()

	c := NewControllerClient(server.URL+"/controller", slog.Default(), []Option{WithAuthorization("Basic abc")})

	ctx := context.Background()
	c.ReportPlanStatus(ctx, models.NewStatusPlan("deploy", 3, models.StatusRunning, ""))
	c.ReportActionStatus(ctx, "deploy", 3, &models.ActionItem{Name: "step", InstanceID: 1})
	c.ReportPlanStatus(ctx, models.NewStatusPlan("deploy", 3, models.StatusComplete, ""))

	require.NoError(t, c.Close(ctx))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, reports, 3)
	assert.Equal(t, "/controller/plans/deploy/instances/3", reports[0].path)
	assert.Equal(t, "/controller/plans/deploy/instances/3/action", reports[1].path)
	assert.Equal(t, "step", reports[1].body["name"])
	assert.Equal(t, "Complete", reports[2].body["result"].(map[string]any)["status"])

	c.ReportPlanStatus(ctx, models.NewStatusPlan("deploy", 3, models.StatusComplete, ""))
	assert.Equal(t, 0, c.Pending(), "reports after Close are dropped")
}

func TestControllerClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	c := NewControllerClient(server.URL, slog.Default(), nil, WithRetry(5, time.Millisecond))
	c.ReportPlanStatus(context.Background(), models.NewStatusPlan("p", 1, models.StatusRunning, ""))

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestControllerClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewControllerClient(server.URL, slog.Default(), nil, WithRetry(5, time.Millisecond))
	c.ReportPlanStatus(context.Background(), models.NewStatusPlan("p", 1, models.StatusRunning, ""))

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestControllerClient_CloseHonorsContext(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewControllerClient(server.URL, slog.Default(), nil)
	c.ReportPlanStatus(context.Background(), models.NewStatusPlan("p", 1, models.StatusRunning, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, c.Close(ctx), context.DeadlineExceeded)
}

func TestControllerURLFromReferrer(t *testing.T) {
	u, err := ControllerURLFromReferrer("https://ctl.example.com:8443/controller/plans/x/start?dryRun=true")
	require.NoError(t, err)
	assert.Equal(t, "https://ctl.example.com:8443/controller", u)

	_, err = ControllerURLFromReferrer("not a url")
	assert.Error(t, err)
}
