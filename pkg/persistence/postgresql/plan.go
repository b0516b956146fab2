package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

// PlanRepository handles plan definition queries.
type PlanRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPlanRepository creates a new plan repository.
func NewPlanRepository(db *sql.DB, logger *slog.Logger) *PlanRepository {
	return &PlanRepository{db: db, logger: logger}
}

// GetByName returns the plan definition stored under uniqueName.
func (r *PlanRepository) GetByName(ctx context.Context, uniqueName string) (*models.Plan, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, `SELECT document FROM plans WHERE unique_name = $1`, uniqueName).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewPlanError("GetPlan", uniqueName, persistence.ErrPlanNotFound)
		}

		return nil, fmt.Errorf("failed to query plan %s: %w", uniqueName, err)
	}

	var plan models.Plan

	err = json.Unmarshal(document, &plan)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", uniqueName, err)
	}

	return &plan, nil
}

// Save inserts or replaces a plan definition.
func (r *PlanRepository) Save(ctx context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	document, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan %s: %w", plan.UniqueName, err)
	}

	query := `
		INSERT INTO plans (unique_name, name, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (unique_name) DO UPDATE SET
			name = EXCLUDED.name
		  , document = EXCLUDED.document
		  , updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query, plan.UniqueName, plan.Name, document)
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.UniqueName, err)
	}

	return nil
}

// Names lists every plan definition name.
func (r *PlanRepository) Names(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT unique_name FROM plans ORDER BY unique_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	names := make([]string, 0)

	for rows.Next() {
		var name string

		err := rows.Scan(&name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan name: %w", err)
		}

		names = append(names, name)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return names, nil
}
