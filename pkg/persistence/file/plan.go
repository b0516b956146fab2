package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

const (
	plansDir   = "plans"
	historyDir = "history"
	planExt    = ".yaml"
)

func (fp *Persistence) planPath(uniqueName string) string {
	return filepath.Join(fp.root, plansDir, uniqueName+planExt)
}

// GetPlan reads a plan definition from plans/<name>.yaml.
func (fp *Persistence) GetPlan(_ context.Context, uniqueName string) (*models.Plan, error) {
	body, err := os.ReadFile(filepath.Clean(fp.planPath(uniqueName)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewPlanError("GetPlan", uniqueName, persistence.ErrPlanNotFound)
		}

		return nil, fmt.Errorf("failed to fetch plan %s: %w", uniqueName, err)
	}

	plan, err := models.UnmarshalPlanYAML(body)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", uniqueName, err)
	}

	if plan.UniqueName == "" {
		plan.UniqueName = uniqueName
	}

	return plan, nil
}

// SavePlan writes a plan definition to plans/<name>.yaml.
func (fp *Persistence) SavePlan(_ context.Context, plan *models.Plan) error {
	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	data, err := models.MarshalPlanYAML(plan)
	if err != nil {
		return err
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	return writeFile(fp.planPath(plan.UniqueName), data)
}

// GetPlanList lists plan definitions by file name.
func (fp *Persistence) GetPlanList(_ context.Context, filter string, isRegexFilter bool) ([]string, error) {
	root := os.DirFS(filepath.Join(fp.root, plansDir))

	files, err := fs.Glob(root, "*"+planExt)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan files: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(f, planExt))
	}

	return persistence.FilterPlanNames(names, filter, isRegexFilter)
}

// CheckAccess applies the definition's allow list.
func (fp *Persistence) CheckAccess(ctx context.Context, identity, uniqueName string) error {
	plan, err := fp.GetPlan(ctx, uniqueName)
	if err != nil {
		return err
	}

	return persistence.CheckPlanAccess(plan, identity)
}
