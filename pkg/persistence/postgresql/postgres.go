// Package postgresql provides PostgreSQL persistence for plan definitions and history.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements persistence.Gateway for PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	planRepo    *PlanRepository
	historyRepo *HistoryRepository
}

var _ persistence.Gateway = (*Persistence)(nil)

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:          database,
		logger:      logger,
		planRepo:    NewPlanRepository(database, logger),
		historyRepo: NewHistoryRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// GetPlan returns a plan definition by unique name.
func (p *Persistence) GetPlan(ctx context.Context, uniqueName string) (*models.Plan, error) {
	return p.planRepo.GetByName(ctx, uniqueName)
}

// SavePlan registers or replaces a plan definition.
func (p *Persistence) SavePlan(ctx context.Context, plan *models.Plan) error {
	return p.planRepo.Save(ctx, plan)
}

// GetPlanList lists plan definitions.
func (p *Persistence) GetPlanList(ctx context.Context, filter string, isRegexFilter bool) ([]string, error) {
	names, err := p.planRepo.Names(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.FilterPlanNames(names, filter, isRegexFilter)
}

// CheckAccess applies the definition's allow list.
func (p *Persistence) CheckAccess(ctx context.Context, identity, uniqueName string) error {
	plan, err := p.planRepo.GetByName(ctx, uniqueName)
	if err != nil {
		return err
	}

	return persistence.CheckPlanAccess(plan, identity)
}

// CreatePlanInstance allocates the next instance id of a plan.
func (p *Persistence) CreatePlanInstance(ctx context.Context, uniqueName string) (*models.Plan, error) {
	definition, err := p.planRepo.GetByName(ctx, uniqueName)
	if err != nil {
		return nil, err
	}

	id, err := p.historyRepo.NextInstanceID(ctx, uniqueName)
	if err != nil {
		return nil, err
	}

	return persistence.NewInstanceFromDefinition(definition, id), nil
}

// GetPlanInstanceIDList lists the recorded instances of a plan.
func (p *Persistence) GetPlanInstanceIDList(ctx context.Context, uniqueName string) ([]int64, error) {
	return p.historyRepo.InstanceIDs(ctx, uniqueName)
}

// GetPlanStatus returns the history document of one instance.
func (p *Persistence) GetPlanStatus(ctx context.Context, uniqueName string, instanceID int64) (*models.Plan, error) {
	return p.historyRepo.Get(ctx, uniqueName, instanceID)
}

// UpdatePlanStatus merges a plan status document into history.
func (p *Persistence) UpdatePlanStatus(ctx context.Context, plan *models.Plan) error {
	return p.historyRepo.SaveStatus(ctx, plan)
}

// UpdatePlanActionStatus applies one action delta to history.
func (p *Persistence) UpdatePlanActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	return p.historyRepo.ApplyAction(ctx, uniqueName, instanceID, action)
}
