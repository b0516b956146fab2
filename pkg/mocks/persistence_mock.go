package mocks

import (
	"context"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of persistence.Gateway interface.
type MockGateway struct {
	mock.Mock
}

var _ persistence.Gateway = (*MockGateway)(nil)

func (m *MockGateway) GetPlan(ctx context.Context, uniqueName string) (*models.Plan, error) {
	args := m.Called(ctx, uniqueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Plan), args.Error(1)
}

func (m *MockGateway) SavePlan(ctx context.Context, plan *models.Plan) error {
	args := m.Called(ctx, plan)

	return args.Error(0)
}

func (m *MockGateway) GetPlanList(ctx context.Context, filter string, isRegexFilter bool) ([]string, error) {
	args := m.Called(ctx, filter, isRegexFilter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockGateway) GetPlanInstanceIDList(ctx context.Context, uniqueName string) ([]int64, error) {
	args := m.Called(ctx, uniqueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockGateway) CreatePlanInstance(ctx context.Context, uniqueName string) (*models.Plan, error) {
	args := m.Called(ctx, uniqueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Plan), args.Error(1)
}

func (m *MockGateway) GetPlanStatus(ctx context.Context, uniqueName string, instanceID int64) (*models.Plan, error) {
	args := m.Called(ctx, uniqueName, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Plan), args.Error(1)
}

func (m *MockGateway) UpdatePlanStatus(ctx context.Context, plan *models.Plan) error {
	args := m.Called(ctx, plan)

	return args.Error(0)
}

func (m *MockGateway) UpdatePlanActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	args := m.Called(ctx, uniqueName, instanceID, action)

	return args.Error(0)
}

func (m *MockGateway) CheckAccess(ctx context.Context, identity, uniqueName string) error {
	args := m.Called(ctx, identity, uniqueName)

	return args.Error(0)
}

func (m *MockGateway) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockGateway) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
