package node

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/execution"
	"github.com/dukex/conduit/pkg/identity"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu     sync.Mutex
	plans  []*models.Plan
	closed bool
}

func (r *recordingReporter) ReportPlanStatus(_ context.Context, plan *models.Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plans = append(r.plans, plan)
}

func (r *recordingReporter) ReportActionStatus(context.Context, string, int64, *models.ActionItem) {}

func (r *recordingReporter) last() models.StatusType {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.plans) == 0 {
		return models.StatusNone
	}

	return r.plans[len(r.plans)-1].Status()
}

func (r *recordingReporter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

func recordingFactory(reporter *recordingReporter) ReporterFactory {
	return func(StartRequest) (execution.Reporter, func(context.Context) error, error) {
		return reporter, func(context.Context) error {
			reporter.mu.Lock()
			reporter.closed = true
			reporter.mu.Unlock()

			return nil
		}, nil
	}
}

func completeRunner() execution.Runner {
	return execution.RunnerFunc(func(_ context.Context, plan *models.Plan, _ execution.RunOptions, _ execution.EventSink) (*models.Plan, error) {
		plan.Result = &models.ExecuteResult{Status: models.StatusComplete}

		return plan, nil
	})
}

func blockingRunner(release <-chan struct{}) execution.Runner {
	return execution.RunnerFunc(func(ctx context.Context, plan *models.Plan, _ execution.RunOptions, _ execution.EventSink) (*models.Plan, error) {
		select {
		case <-release:
			plan.Result = &models.ExecuteResult{Status: models.StatusComplete}
		case <-ctx.Done():
			plan.Result = &models.ExecuteResult{Status: models.StatusCancelled}
		}

		return plan, nil
	})
}

func testConfig() Config {
	return Config{NodeID: "node-1", MaxConcurrency: 2}
}

func samplePlan() *models.Plan {
	return &models.Plan{
		Name: "deploy",
		Actions: []*models.ActionItem{
			{Name: "step", Handler: models.HandlerInfo{Type: "log"}},
		},
	}
}

func newService(t *testing.T, config Config, runner execution.Runner, opts ...Option) *Service {
	t.Helper()

	s, err := NewService(t.Context(), config, runner, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = s.Close(ctx)
	})

	return s
}

func TestNewService_InvalidConfig(t *testing.T) {
	_, err := NewService(t.Context(), Config{MaxConcurrency: 1}, completeRunner())
	require.Error(t, err)

	_, err = NewService(t.Context(), Config{NodeID: "n", MaxConcurrency: 1, VerifySignature: true}, completeRunner())
	require.ErrorIs(t, err, signature.ErrInvalidKey)
}

func TestStartPlan_RunsAndReports(t *testing.T) {
	reporter := &recordingReporter{}
	s := newService(t, testConfig(), completeRunner(), WithReporterFactory(recordingFactory(reporter)))

	err := s.StartPlan(t.Context(), StartRequest{InstanceID: 3, Plan: samplePlan()})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return reporter.last() == models.StatusComplete && reporter.isClosed()
	}, 2*time.Second, 10*time.Millisecond)

	reporter.mu.Lock()
	defer reporter.mu.Unlock()

	assert.Equal(t, int64(3), reporter.plans[0].InstanceID)
	assert.Equal(t, "deploy", reporter.plans[0].UniqueName)
}

func TestStartPlan_Validation(t *testing.T) {
	s := newService(t, testConfig(), completeRunner(), WithReporterFactory(recordingFactory(&recordingReporter{})))

	err := s.StartPlan(t.Context(), StartRequest{InstanceID: 1})
	assert.True(t, IsValidationError(err))

	err = s.StartPlan(t.Context(), StartRequest{InstanceID: 0, Plan: samplePlan()})
	assert.True(t, IsValidationError(err))

	err = s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: &models.Plan{}})
	assert.True(t, IsValidationError(err))
}

func TestStartPlan_VerifiesSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()
	keys := signature.FileKeyLocator{
		PrivateKeyPath: filepath.Join(dir, "key"),
		PublicKeyPath:  filepath.Join(dir, "key.pub"),
	}
	require.NoError(t, os.WriteFile(keys.PrivateKeyPath, []byte(signature.EncodeKey(priv)), 0600))
	require.NoError(t, os.WriteFile(keys.PublicKeyPath, []byte(signature.EncodeKey(pub)), 0600))

	config := testConfig()
	config.VerifySignature = true

	reporter := &recordingReporter{}
	s := newService(t, config, completeRunner(), WithKeyLocator(keys), WithReporterFactory(recordingFactory(reporter)))

	err = s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()})
	assert.True(t, IsSignatureError(err))

	tampered := samplePlan()
	tampered.InstanceID = 2
	require.NoError(t, signature.Sign(tampered, keys))
	tampered.Description = "changed"

	err = s.StartPlan(t.Context(), StartRequest{InstanceID: 2, Plan: tampered})
	require.ErrorIs(t, err, ErrSignatureInvalid)

	signed := samplePlan()
	signed.UniqueName = "deploy"
	signed.InstanceID = 3
	require.NoError(t, signature.Sign(signed, keys))

	err = s.StartPlan(t.Context(), StartRequest{InstanceID: 3, Plan: signed})
	require.NoError(t, err)
}

func TestStartPlan_DuplicateAndCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	reporter := &recordingReporter{}
	s := newService(t, testConfig(), blockingRunner(release), WithReporterFactory(recordingFactory(reporter)))

	require.NoError(t, s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()}))

	err := s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()})
	assert.True(t, IsConflict(err))

	assert.False(t, s.CancelPlan(99))
	assert.True(t, s.CancelPlan(1))

	assert.Eventually(t, func() bool {
		return reporter.last() == models.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartPlan_DuplicateKeepsRunningReporter(t *testing.T) {
	release := make(chan struct{})

	var (
		mu     sync.Mutex
		made   int
		closed int
	)

	factory := func(StartRequest) (execution.Reporter, func(context.Context) error, error) {
		mu.Lock()
		made++
		mu.Unlock()

		return &recordingReporter{}, func(context.Context) error {
			mu.Lock()
			closed++
			mu.Unlock()

			return nil
		}, nil
	}

	s := newService(t, testConfig(), blockingRunner(release), WithReporterFactory(factory))

	require.NoError(t, s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()}))

	err := s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()})
	assert.True(t, IsConflict(err))

	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return made > 0 && made == closed
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, 1, made)
}

func TestQueueIntrospection(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	config := testConfig()
	config.MaxConcurrency = 1

	s := newService(t, config, blockingRunner(release), WithReporterFactory(recordingFactory(&recordingReporter{})))

	require.NoError(t, s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()}))
	require.NoError(t, s.StartPlan(t.Context(), StartRequest{InstanceID: 2, Plan: samplePlan()}))

	assert.Equal(t, 1, s.QueueDepth())
	assert.Equal(t, []string{"1_deploy", "2_deploy"}, s.QueueItems())
}

func TestDrainstop(t *testing.T) {
	release := make(chan struct{})

	s := newService(t, testConfig(), blockingRunner(release), WithReporterFactory(recordingFactory(&recordingReporter{})))

	require.NoError(t, s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()}))

	s.Drainstop(true)

	err := s.StartPlan(t.Context(), StartRequest{InstanceID: 2, Plan: samplePlan()})
	assert.True(t, IsAdmissionRejected(err))
	assert.False(t, s.IsDrainstopComplete())

	close(release)

	select {
	case <-s.ShutdownRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not requested after drain")
	}

	assert.True(t, s.IsDrainstopComplete())

	s.CancelDrainstop()
	require.NoError(t, s.StartPlan(t.Context(), StartRequest{InstanceID: 3, Plan: samplePlan()}))
}

func TestStartPlan_Impersonation(t *testing.T) {
	seen := make(chan string, 1)

	runner := execution.RunnerFunc(func(ctx context.Context, plan *models.Plan, _ execution.RunOptions, _ execution.EventSink) (*models.Plan, error) {
		id, _ := identity.FromContext(ctx)
		seen <- id.String()

		return plan, nil
	})

	config := testConfig()
	config.Impersonate = true

	s := newService(t, config, runner, WithReporterFactory(recordingFactory(&recordingReporter{})))

	err := s.StartPlan(t.Context(), StartRequest{
		InstanceID: 1,
		Plan:       samplePlan(),
		Identity:   &identity.Identity{Name: "alice", Scheme: "basic"},
	})
	require.NoError(t, err)

	select {
	case name := <-seen:
		assert.Equal(t, "alice", name)
	case <-time.After(2 * time.Second):
		t.Fatal("runner not called")
	}
}

func TestHTTPReporter_UsesReferrer(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []models.StatusType
		auth     string
	)

	controller := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/controller/plans/deploy/instances/5" {
			return
		}

		var plan models.Plan
		_ = json.NewDecoder(r.Body).Decode(&plan)

		mu.Lock()
		statuses = append(statuses, plan.Status())
		auth = r.Header.Get("Authorization")
		mu.Unlock()
	}))
	defer controller.Close()

	s := newService(t, testConfig(), completeRunner())

	err := s.StartPlan(t.Context(), StartRequest{
		InstanceID:    5,
		Plan:          samplePlan(),
		Referrer:      controller.URL + "/controller/plans/deploy/start",
		Authorization: identity.BasicAuthorization("alice", "secret"),
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(statuses) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []models.StatusType{models.StatusRunning, models.StatusComplete}, statuses)
	assert.Equal(t, identity.BasicAuthorization("alice", "secret"), auth)
}

func TestHTTPReporter_NoController(t *testing.T) {
	s := newService(t, testConfig(), completeRunner())

	err := s.StartPlan(t.Context(), StartRequest{InstanceID: 1, Plan: samplePlan()})
	require.ErrorIs(t, err, ErrNoController)
	assert.True(t, IsValidationError(err))
}
