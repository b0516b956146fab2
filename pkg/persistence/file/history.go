package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

const sequenceFile = "sequence"

func (fp *Persistence) historyPath(uniqueName string, instanceID int64) string {
	return filepath.Join(fp.root, historyDir, uniqueName, strconv.FormatInt(instanceID, 10)+planExt)
}

// CreatePlanInstance copies the definition and allocates the next instance id
// from history/<name>/sequence.
func (fp *Persistence) CreatePlanInstance(ctx context.Context, uniqueName string) (*models.Plan, error) {
	definition, err := fp.GetPlan(ctx, uniqueName)
	if err != nil {
		return nil, err
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	seqPath := filepath.Join(fp.root, historyDir, uniqueName, sequenceFile)

	var last int64

	body, err := os.ReadFile(filepath.Clean(seqPath))

	switch {
	case err == nil:
		last, err = strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt instance sequence for %s: %w", uniqueName, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read instance sequence for %s: %w", uniqueName, err)
	}

	next := last + 1

	err = writeFile(seqPath, []byte(strconv.FormatInt(next, 10)))
	if err != nil {
		return nil, fmt.Errorf("failed to advance instance sequence for %s: %w", uniqueName, err)
	}

	return persistence.NewInstanceFromDefinition(definition, next), nil
}

// GetPlanStatus reads history/<name>/<id>.yaml.
func (fp *Persistence) GetPlanStatus(_ context.Context, uniqueName string, instanceID int64) (*models.Plan, error) {
	return fp.readHistory(uniqueName, instanceID)
}

func (fp *Persistence) readHistory(uniqueName string, instanceID int64) (*models.Plan, error) {
	body, err := os.ReadFile(filepath.Clean(fp.historyPath(uniqueName, instanceID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewInstanceError("GetPlanStatus", uniqueName, instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to fetch history %s/%d: %w", uniqueName, instanceID, err)
	}

	plan, err := models.UnmarshalPlanYAML(body)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal history %s/%d: %w", uniqueName, instanceID, err)
	}

	return plan, nil
}

func (fp *Persistence) writeHistory(plan *models.Plan) error {
	data, err := models.MarshalPlanYAML(plan)
	if err != nil {
		return err
	}

	return writeFile(fp.historyPath(plan.UniqueName, plan.InstanceID), data)
}

// UpdatePlanStatus merges the document into the instance history.
func (fp *Persistence) UpdatePlanStatus(_ context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	existing, err := fp.readHistory(plan.UniqueName, plan.InstanceID)
	if err != nil && !persistence.IsInstanceNotFound(err) {
		return err
	}

	return fp.writeHistory(models.MergePlanStatus(existing, plan))
}

// UpdatePlanActionStatus applies one action delta to the instance history.
func (fp *Persistence) UpdatePlanActionStatus(_ context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	plan, err := fp.readHistory(uniqueName, instanceID)
	if err != nil {
		return err
	}

	err = persistence.ApplyActionDelta(plan, uniqueName, instanceID, action)
	if err != nil {
		return err
	}

	return fp.writeHistory(plan)
}

// GetPlanInstanceIDList lists the instance documents under history/<name>.
func (fp *Persistence) GetPlanInstanceIDList(_ context.Context, uniqueName string) ([]int64, error) {
	root := os.DirFS(filepath.Join(fp.root, historyDir, uniqueName))

	files, err := fs.Glob(root, "*"+planExt)
	if err != nil {
		return nil, fmt.Errorf("failed to list history of %s: %w", uniqueName, err)
	}

	ids := make([]int64, 0, len(files))

	for _, f := range files {
		id, err := strconv.ParseInt(strings.TrimSuffix(f, planExt), 10, 64)
		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}
