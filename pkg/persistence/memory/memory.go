// Package memory provides an in-process persistence gateway backed by go-memdb.
package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/hashicorp/go-memdb"
)

const (
	tablePlans     = "plans"
	tableSequences = "sequences"
	tableInstances = "instances"
)

type planRecord struct {
	UniqueName string
	Plan       *models.Plan
}

type sequenceRecord struct {
	UniqueName string
	Last       int64
}

type instanceRecord struct {
	UniqueName string
	InstanceID int64
	Plan       *models.Plan
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tablePlans: {
				Name: tablePlans,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "UniqueName"}},
				},
			},
			tableSequences: {
				Name: tableSequences,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "UniqueName"}},
				},
			},
			tableInstances: {
				Name: tableInstances,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UniqueName"},
							&memdb.IntFieldIndex{Field: "InstanceID"},
						}},
					},
					"plan": {Name: "plan", Indexer: &memdb.StringFieldIndex{Field: "UniqueName"}},
				},
			},
		},
	}
}

// Persistence implements persistence.Gateway in memory. Every stored document
// is a private copy; write transactions are serialized by memdb.
type Persistence struct {
	db *memdb.MemDB
}

var _ persistence.Gateway = (*Persistence)(nil)

// NewPersistence creates an empty in-memory store.
func NewPersistence() (*Persistence, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}

	return &Persistence{db: db}, nil
}

// Close is a no-op.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck is always healthy.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// GetPlan returns a copy of the registered definition.
func (p *Persistence) GetPlan(_ context.Context, uniqueName string) (*models.Plan, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	return getPlan(txn, uniqueName)
}

func getPlan(txn *memdb.Txn, uniqueName string) (*models.Plan, error) {
	raw, err := txn.First(tablePlans, "id", uniqueName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up plan %s: %w", uniqueName, err)
	}

	if raw == nil {
		return nil, persistence.NewPlanError("GetPlan", uniqueName, persistence.ErrPlanNotFound)
	}

	return raw.(*planRecord).Plan.Clone(), nil
}

// SavePlan stores a copy of the definition.
func (p *Persistence) SavePlan(_ context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	txn := p.db.Txn(true)
	defer txn.Abort()

	err := txn.Insert(tablePlans, &planRecord{UniqueName: plan.UniqueName, Plan: plan.Clone()})
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.UniqueName, err)
	}

	txn.Commit()

	return nil
}

// GetPlanList lists registered definitions.
func (p *Persistence) GetPlanList(_ context.Context, filter string, isRegexFilter bool) ([]string, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tablePlans, "id")
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	var names []string
	for obj := it.Next(); obj != nil; obj = it.Next() {
		names = append(names, obj.(*planRecord).UniqueName)
	}

	return persistence.FilterPlanNames(names, filter, isRegexFilter)
}

// CheckAccess applies the definition's allow list.
func (p *Persistence) CheckAccess(ctx context.Context, identity, uniqueName string) error {
	plan, err := p.GetPlan(ctx, uniqueName)
	if err != nil {
		return err
	}

	return persistence.CheckPlanAccess(plan, identity)
}

// CreatePlanInstance bumps the plan's sequence inside one write transaction.
func (p *Persistence) CreatePlanInstance(_ context.Context, uniqueName string) (*models.Plan, error) {
	txn := p.db.Txn(true)
	defer txn.Abort()

	definition, err := getPlan(txn, uniqueName)
	if err != nil {
		return nil, err
	}

	raw, err := txn.First(tableSequences, "id", uniqueName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sequence of %s: %w", uniqueName, err)
	}

	next := int64(1)
	if raw != nil {
		next = raw.(*sequenceRecord).Last + 1
	}

	err = txn.Insert(tableSequences, &sequenceRecord{UniqueName: uniqueName, Last: next})
	if err != nil {
		return nil, fmt.Errorf("failed to advance sequence of %s: %w", uniqueName, err)
	}

	txn.Commit()

	return persistence.NewInstanceFromDefinition(definition, next), nil
}

// GetPlanInstanceIDList lists recorded instances in ascending order.
func (p *Persistence) GetPlanInstanceIDList(_ context.Context, uniqueName string) ([]int64, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableInstances, "plan", uniqueName)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %s: %w", uniqueName, err)
	}

	ids := make([]int64, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		ids = append(ids, obj.(*instanceRecord).InstanceID)
	}

	slices.Sort(ids)

	return ids, nil
}

// GetPlanStatus returns a copy of the history document.
func (p *Persistence) GetPlanStatus(_ context.Context, uniqueName string, instanceID int64) (*models.Plan, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	return getInstance(txn, uniqueName, instanceID)
}

func getInstance(txn *memdb.Txn, uniqueName string, instanceID int64) (*models.Plan, error) {
	raw, err := txn.First(tableInstances, "id", uniqueName, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up history %s/%d: %w", uniqueName, instanceID, err)
	}

	if raw == nil {
		return nil, persistence.NewInstanceError("GetPlanStatus", uniqueName, instanceID, persistence.ErrInstanceNotFound)
	}

	return raw.(*instanceRecord).Plan.Clone(), nil
}

// UpdatePlanStatus merges the document into history.
func (p *Persistence) UpdatePlanStatus(_ context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	txn := p.db.Txn(true)
	defer txn.Abort()

	existing, err := getInstance(txn, plan.UniqueName, plan.InstanceID)
	if err != nil && !persistence.IsInstanceNotFound(err) {
		return err
	}

	return putInstance(txn, models.MergePlanStatus(existing, plan))
}

// UpdatePlanActionStatus applies one action delta to history.
func (p *Persistence) UpdatePlanActionStatus(_ context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	plan, err := getInstance(txn, uniqueName, instanceID)
	if err != nil {
		return err
	}

	err = persistence.ApplyActionDelta(plan, uniqueName, instanceID, action)
	if err != nil {
		return err
	}

	return putInstance(txn, plan)
}

func putInstance(txn *memdb.Txn, plan *models.Plan) error {
	err := txn.Insert(tableInstances, &instanceRecord{
		UniqueName: plan.UniqueName,
		InstanceID: plan.InstanceID,
		Plan:       plan,
	})
	if err != nil {
		return fmt.Errorf("failed to save history %s/%d: %w", plan.UniqueName, plan.InstanceID, err)
	}

	txn.Commit()

	return nil
}
