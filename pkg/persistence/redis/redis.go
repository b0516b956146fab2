// Package redis provides a Redis-backed persistence gateway.
//
// Key layout, under a configurable prefix:
//
//	<prefix>plan:<name>           => JSON plan definition
//	<prefix>idx:plans             => SET of plan names
//	<prefix>seq:<name>            => INCR instance id counter
//	<prefix>hist:<name>:<id>      => JSON history document
//	<prefix>idx:hist:<name>       => SET of instance ids
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the gateway.
const DefaultPrefix = "conduit:"

// maxWatchRetries bounds optimistic transaction retries on contention.
const maxWatchRetries = 16

// Persistence implements persistence.Gateway on Redis.
type Persistence struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ persistence.Gateway = (*Persistence)(nil)

// NewPersistence connects to the Redis server at redisURL (redis://...).
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewPersistenceWithClient(client, DefaultPrefix, logger), nil
}

// NewPersistenceWithClient wraps an existing client.
func NewPersistenceWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Persistence {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Persistence{client: client, prefix: prefix, logger: logger}
}

func (p *Persistence) keyPlan(name string) string { return p.prefix + "plan:" + name }

func (p *Persistence) keyPlans() string { return p.prefix + "idx:plans" }

func (p *Persistence) keySequence(name string) string { return p.prefix + "seq:" + name }

func (p *Persistence) keyHistory(name string, id int64) string {
	return p.prefix + "hist:" + name + ":" + strconv.FormatInt(id, 10)
}

func (p *Persistence) keyHistoryIndex(name string) string { return p.prefix + "idx:hist:" + name }

// Close closes the client.
func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// GetPlan returns a plan definition.
func (p *Persistence) GetPlan(ctx context.Context, uniqueName string) (*models.Plan, error) {
	data, err := p.client.Get(ctx, p.keyPlan(uniqueName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewPlanError("GetPlan", uniqueName, persistence.ErrPlanNotFound)
		}

		return nil, fmt.Errorf("failed to fetch plan %s: %w", uniqueName, err)
	}

	return decodePlan(data)
}

// SavePlan stores a plan definition and indexes its name.
func (p *Persistence) SavePlan(ctx context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan %s: %w", plan.UniqueName, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.keyPlan(plan.UniqueName), data, 0)
		pipe.SAdd(ctx, p.keyPlans(), plan.UniqueName)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.UniqueName, err)
	}

	return nil
}

// GetPlanList lists plan definitions.
func (p *Persistence) GetPlanList(ctx context.Context, filter string, isRegexFilter bool) ([]string, error) {
	names, err := p.client.SMembers(ctx, p.keyPlans()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
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

// CreatePlanInstance allocates the next instance id with INCR.
func (p *Persistence) CreatePlanInstance(ctx context.Context, uniqueName string) (*models.Plan, error) {
	definition, err := p.GetPlan(ctx, uniqueName)
	if err != nil {
		return nil, err
	}

	id, err := p.client.Incr(ctx, p.keySequence(uniqueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to advance instance sequence for %s: %w", uniqueName, err)
	}

	return persistence.NewInstanceFromDefinition(definition, id), nil
}

// GetPlanInstanceIDList lists recorded instances in ascending order.
func (p *Persistence) GetPlanInstanceIDList(ctx context.Context, uniqueName string) ([]int64, error) {
	members, err := p.client.SMembers(ctx, p.keyHistoryIndex(uniqueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %s: %w", uniqueName, err)
	}

	ids := make([]int64, 0, len(members))

	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			p.logger.WarnContext(ctx, "skipping malformed instance id", "plan", uniqueName, "member", m)

			continue
		}

		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}

// GetPlanStatus returns a history document.
func (p *Persistence) GetPlanStatus(ctx context.Context, uniqueName string, instanceID int64) (*models.Plan, error) {
	return p.readHistory(ctx, p.client, uniqueName, instanceID)
}

func (p *Persistence) readHistory(ctx context.Context, cmd redis.Cmdable, uniqueName string, instanceID int64) (*models.Plan, error) {
	data, err := cmd.Get(ctx, p.keyHistory(uniqueName, instanceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewInstanceError("GetPlanStatus", uniqueName, instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to fetch history %s/%d: %w", uniqueName, instanceID, err)
	}

	return decodePlan(data)
}

// UpdatePlanStatus merges the document into history.
func (p *Persistence) UpdatePlanStatus(ctx context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	return p.updateHistory(ctx, plan.UniqueName, plan.InstanceID, func(existing *models.Plan, err error) (*models.Plan, error) {
		if err != nil && !persistence.IsInstanceNotFound(err) {
			return nil, err
		}

		return models.MergePlanStatus(existing, plan), nil
	})
}

// UpdatePlanActionStatus applies one action delta to history.
func (p *Persistence) UpdatePlanActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	return p.updateHistory(ctx, uniqueName, instanceID, func(existing *models.Plan, err error) (*models.Plan, error) {
		if err != nil {
			return nil, err
		}

		err = persistence.ApplyActionDelta(existing, uniqueName, instanceID, action)
		if err != nil {
			return nil, err
		}

		return existing, nil
	})
}

// updateHistory runs a WATCH/MULTI/EXEC read-modify-write, retrying when
// another writer touched the key in between.
func (p *Persistence) updateHistory(
	ctx context.Context,
	uniqueName string,
	instanceID int64,
	mutate func(existing *models.Plan, err error) (*models.Plan, error),
) error {
	key := p.keyHistory(uniqueName, instanceID)

	txf := func(tx *redis.Tx) error {
		existing, err := p.readHistory(ctx, tx, uniqueName, instanceID)

		updated, err := mutate(existing, err)
		if err != nil {
			return err
		}

		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal history %s/%d: %w", uniqueName, instanceID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, p.keyHistoryIndex(uniqueName), strconv.FormatInt(instanceID, 10))

			return nil
		})

		return err
	}

	for range maxWatchRetries {
		err := p.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return fmt.Errorf("failed to update history %s/%d: %w", uniqueName, instanceID, redis.TxFailedErr)
}

func decodePlan(data []byte) (*models.Plan, error) {
	var plan models.Plan

	err := json.Unmarshal(data, &plan)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan document: %w", err)
	}

	return &plan, nil
}
