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

// HistoryRepository handles plan instance history queries.
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sql.DB, logger *slog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// NextInstanceID advances the per-plan sequence row and returns the new value.
func (r *HistoryRepository) NextInstanceID(ctx context.Context, uniqueName string) (int64, error) {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = transaction.Rollback() }()

	_, err = transaction.ExecContext(ctx,
		`INSERT INTO plan_sequences (unique_name, last_instance_id) VALUES ($1, 0) ON CONFLICT (unique_name) DO NOTHING`,
		uniqueName)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize sequence for %s: %w", uniqueName, err)
	}

	var id int64

	err = transaction.QueryRowContext(ctx,
		`UPDATE plan_sequences SET last_instance_id = last_instance_id + 1 WHERE unique_name = $1 RETURNING last_instance_id`,
		uniqueName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence for %s: %w", uniqueName, err)
	}

	err = transaction.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit sequence for %s: %w", uniqueName, err)
	}

	return id, nil
}

// InstanceIDs lists the recorded instances of a plan in ascending order.
func (r *HistoryRepository) InstanceIDs(ctx context.Context, uniqueName string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT instance_id FROM plan_instances WHERE unique_name = $1 ORDER BY instance_id`, uniqueName)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances of %s: %w", uniqueName, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	ids := make([]int64, 0)

	for rows.Next() {
		var id int64

		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return ids, nil
}

// Get returns the history document of one instance.
func (r *HistoryRepository) Get(ctx context.Context, uniqueName string, instanceID int64) (*models.Plan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document FROM plan_instances WHERE unique_name = $1 AND instance_id = $2`, uniqueName, instanceID)

	return scanDocument(row, "GetPlanStatus", uniqueName, instanceID)
}

// SaveStatus merges a plan status document into the row, locking it for the
// duration of the merge.
func (r *HistoryRepository) SaveStatus(ctx context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	return r.withLockedDocument(ctx, plan.UniqueName, plan.InstanceID, true,
		func(existing *models.Plan) (*models.Plan, error) {
			return models.MergePlanStatus(existing, plan), nil
		})
}

// ApplyAction applies an action delta to the row under SELECT ... FOR UPDATE.
func (r *HistoryRepository) ApplyAction(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	return r.withLockedDocument(ctx, uniqueName, instanceID, false,
		func(existing *models.Plan) (*models.Plan, error) {
			err := persistence.ApplyActionDelta(existing, uniqueName, instanceID, action)
			if err != nil {
				return nil, err
			}

			return existing, nil
		})
}

func (r *HistoryRepository) withLockedDocument(
	ctx context.Context,
	uniqueName string,
	instanceID int64,
	allowMissing bool,
	mutate func(existing *models.Plan) (*models.Plan, error),
) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = transaction.Rollback() }()

	row := transaction.QueryRowContext(ctx,
		`SELECT document FROM plan_instances WHERE unique_name = $1 AND instance_id = $2 FOR UPDATE`,
		uniqueName, instanceID)

	existing, err := scanDocument(row, "UpdatePlanStatus", uniqueName, instanceID)
	if err != nil {
		if !allowMissing || !persistence.IsInstanceNotFound(err) {
			return err
		}

		existing = nil
	}

	updated, err := mutate(existing)
	if err != nil {
		return err
	}

	document, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal history %s/%d: %w", uniqueName, instanceID, err)
	}

	query := `
		INSERT INTO plan_instances (unique_name, instance_id, status, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (unique_name, instance_id) DO UPDATE SET
			status = EXCLUDED.status
		  , document = EXCLUDED.document
		  , updated_at = NOW()
	`

	_, err = transaction.ExecContext(ctx, query, uniqueName, instanceID, string(updated.Status()), document)
	if err != nil {
		return fmt.Errorf("failed to save history %s/%d: %w", uniqueName, instanceID, err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit history %s/%d: %w", uniqueName, instanceID, err)
	}

	return nil
}

func scanDocument(row *sql.Row, op, uniqueName string, instanceID int64) (*models.Plan, error) {
	var document []byte

	err := row.Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError(op, uniqueName, instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to query history %s/%d: %w", uniqueName, instanceID, err)
	}

	var plan models.Plan

	err = json.Unmarshal(document, &plan)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal history %s/%d: %w", uniqueName, instanceID, err)
	}

	return &plan, nil
}
