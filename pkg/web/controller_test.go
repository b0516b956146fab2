package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/dukex/conduit/pkg/client"
	"github.com/dukex/conduit/pkg/controller"
	"github.com/dukex/conduit/pkg/identity"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence/memory"
	"github.com/dukex/conduit/pkg/statusupdate"
	"github.com/dukex/conduit/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct {
	mu         sync.Mutex
	parameters map[string]string
	referrer   string
	err        error
}

func (n *stubNode) StartPlan(_ context.Context, _ int64, _ *models.Plan, _ bool, parameters map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.parameters = parameters

	return n.err
}

func (n *stubNode) StartPlanWithParameters(_ context.Context, _ int64, envelope *models.StartPlanEnvelope, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.parameters = envelope.DynamicParameters

	return n.err
}

func (n *stubNode) CancelPlan(context.Context, int64) (bool, error) {
	return false, n.err
}

func setupControllerApp(t *testing.T, nodeStub *stubNode) (*fiber.App, *memory.Persistence) {
	t.Helper()

	gateway, err := memory.NewPersistence()
	require.NoError(t, err)

	pipeline := statusupdate.New(gateway)
	pipeline.Start(t.Context())
	t.Cleanup(pipeline.Stop)

	service, err := controller.NewService(
		controller.Config{NodeURL: "http://node:8000"},
		gateway,
		pipeline,
		controller.WithNodeFactory(func(string, ...client.Option) controller.Node { return nodeStub }),
	)
	require.NoError(t, err)

	app := (&web.App{Name: "conduit-controller", Controller: web.NewControllerHandlers(service)}).App()

	return app, gateway
}

func jsonPlan(t *testing.T, plan *models.Plan) string {
	t.Helper()

	data, err := json.Marshal(plan)
	require.NoError(t, err)

	return string(data)
}

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

func TestController_PlanDefinitions(t *testing.T) {
	app, _ := setupControllerApp(t, &stubNode{})

	resp := doRequest(t, app, http.MethodPost, "/controller/plans", jsonPlan(t, logPlan("deploy")), jsonHeaders)
	require.Equal(t, http.StatusCreated, resp.status, resp.body)

	resp = doRequest(t, app, http.MethodPost, "/controller/plans", jsonPlan(t, logPlan("backup")), jsonHeaders)
	require.Equal(t, http.StatusCreated, resp.status, resp.body)

	resp = doRequest(t, app, http.MethodPost, "/controller/plans", `{"name": ""}`, jsonHeaders)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = doRequest(t, app, http.MethodGet, "/controller/plans", "", nil)
	assert.JSONEq(t, `["backup", "deploy"]`, resp.body)

	resp = doRequest(t, app, http.MethodGet, "/controller/plans?filter=^dep&regex=true", "", nil)
	assert.JSONEq(t, `["deploy"]`, resp.body)

	resp = doRequest(t, app, http.MethodGet, "/controller/plans/deploy", "", nil)
	require.Equal(t, http.StatusOK, resp.status)

	var plan models.Plan
	require.NoError(t, json.Unmarshal([]byte(resp.body), &plan))
	assert.Equal(t, "deploy", plan.Name)
	require.Len(t, plan.Actions, 1)

	resp = doRequest(t, app, http.MethodGet, "/controller/plans/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestController_StartPlan(t *testing.T) {
	stub := &stubNode{}
	app, gateway := setupControllerApp(t, stub)
	require.NoError(t, gateway.SavePlan(t.Context(), logPlan("deploy")))

	resp := doRequest(t, app, http.MethodPost, "/controller/plans/deploy/start?dryRun=true&requestNumber=CHG-9&who=world", "", map[string]string{
		"Authorization": identity.BasicAuthorization("ops", "secret"),
	})
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.JSONEq(t, `1`, resp.body)
	assert.Equal(t, map[string]string{"who": "world"}, stub.parameters)

	resp = doRequest(t, app, http.MethodGet, "/controller/plans/deploy/instances/1", "", nil)

	var status models.Plan
	require.NoError(t, json.Unmarshal([]byte(resp.body), &status))
	assert.Equal(t, models.StatusNew, status.Status())
	assert.Equal(t, "ops", status.StartInfo.RequestUser)
	assert.Equal(t, "CHG-9", status.StartInfo.RequestNumber)

	resp = doRequest(t, app, http.MethodGet, "/controller/plans/deploy/instances", "", nil)
	assert.JSONEq(t, `[1]`, resp.body)

	resp = doRequest(t, app, http.MethodPost, "/controller/plans/missing/start", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = doRequest(t, app, http.MethodPost, "/controller/plans/deploy/start?nodeRootUrl=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	stub.err = errors.New("connection refused")
	resp = doRequest(t, app, http.MethodPost, "/controller/plans/deploy/start", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)

	stub.err = &client.RemoteError{StatusCode: http.StatusForbidden, Title: "Forbidden"}
	resp = doRequest(t, app, http.MethodPost, "/controller/plans/deploy/start", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.status)
}

func TestController_StartPlanAccessDenied(t *testing.T) {
	app, gateway := setupControllerApp(t, &stubNode{})

	plan := logPlan("restricted")
	plan.AllowedUsers = []string{"admin"}
	require.NoError(t, gateway.SavePlan(t.Context(), plan))

	resp := doRequest(t, app, http.MethodPost, "/controller/plans/restricted/start", "", map[string]string{
		"Authorization": identity.BasicAuthorization("ops", "secret"),
	})
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestController_StatusUpdates(t *testing.T) {
	app, _ := setupControllerApp(t, &stubNode{})

	running := models.NewStatusPlan("deploy", 3, models.StatusRunning, "running")
	running.Actions = []*models.ActionItem{{Name: "fetch", InstanceID: 1}}

	resp := doRequest(t, app, http.MethodPost, "/controller/plans/deploy/instances/3", jsonPlan(t, running), jsonHeaders)
	require.Equal(t, http.StatusNoContent, resp.status, resp.body)

	resp = doRequest(t, app, http.MethodPost, "/controller/plans/deploy/instances/3/action",
		`{"name": "unpack", "instance_id": 2, "parent_instance_id": 1, "result": {"status": "Complete", "branch_status": "Complete"}}`, jsonHeaders)
	require.Equal(t, http.StatusNoContent, resp.status, resp.body)

	resp = doRequest(t, app, http.MethodPost, "/controller/plans/deploy/instances/3/action", `{}`, jsonHeaders)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	require.Eventually(t, func() bool {
		resp := doRequest(t, app, http.MethodGet, "/controller/plans/deploy/instances/3", "", nil)

		var plan models.Plan
		if json.Unmarshal([]byte(resp.body), &plan) != nil || len(plan.Actions) != 1 {
			return false
		}

		return len(plan.Actions[0].Actions) == 1
	}, statusTimeout, pollInterval)

	resp = doRequest(t, app, http.MethodGet, "/controller/updates", "", nil)

	var stats statusupdate.Stats
	require.NoError(t, json.Unmarshal([]byte(resp.body), &stats))
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Kinds[statusupdate.KindAction].Persisted)

	resp = doRequest(t, app, http.MethodPost, "/controller/updates/redrive?kind=action", "", nil)
	assert.JSONEq(t, `0`, resp.body)

	resp = doRequest(t, app, http.MethodPost, "/controller/updates/redrive?kind=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestController_GetPlanStatusPlaceholder(t *testing.T) {
	app, _ := setupControllerApp(t, &stubNode{})

	resp := doRequest(t, app, http.MethodGet, "/controller/plans/deploy/instances/5", "", nil)
	require.Equal(t, http.StatusOK, resp.status)

	var plan models.Plan
	require.NoError(t, json.Unmarshal([]byte(resp.body), &plan))
	assert.Equal(t, models.StatusNone, plan.Status())
	assert.Equal(t, "Could not fetch Plan [deploy/5].", plan.Result.Message)
}

func TestController_CancelPlan(t *testing.T) {
	app, gateway := setupControllerApp(t, &stubNode{})
	require.NoError(t, gateway.SavePlan(t.Context(), logPlan("deploy")))

	resp := doRequest(t, app, http.MethodDelete, "/controller/plans/deploy/instances/1", "", nil)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.JSONEq(t, `false`, resp.body)
}
