package persistence

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/dukex/conduit/pkg/models"
)

// FilterPlanNames applies the GetPlanList filter semantics shared by all
// gateways and returns the matches sorted.
func FilterPlanNames(names []string, filter string, isRegexFilter bool) ([]string, error) {
	out := make([]string, 0, len(names))

	if filter == "" {
		out = append(out, names...)
		slices.Sort(out)

		return out, nil
	}

	var match func(string) bool

	if isRegexFilter {
		re, err := regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid plan filter %q: %w", filter, err)
		}

		match = re.MatchString
	} else {
		lower := strings.ToLower(filter)
		match = func(name string) bool { return strings.Contains(strings.ToLower(name), lower) }
	}

	for _, name := range names {
		if match(name) {
			out = append(out, name)
		}
	}

	slices.Sort(out)

	return out, nil
}

// NewInstanceFromDefinition copies a plan definition into a fresh instance document.
func NewInstanceFromDefinition(definition *models.Plan, instanceID int64) *models.Plan {
	instance := definition.Clone()
	instance.InstanceID = instanceID
	instance.Result = nil
	instance.Signature = nil

	if instance.UniqueName == "" {
		instance.UniqueName = definition.Name
	}

	return instance
}

// ApplyActionDelta loads the delta into the document, returning ErrActionNotFound
// wrapped with context when the parent is missing.
func ApplyActionDelta(plan *models.Plan, uniqueName string, instanceID int64, delta *models.ActionItem) error {
	actions, ok := models.FindActionAndReplace(plan.Actions, delta)
	if !ok {
		return NewActionNotFoundError(uniqueName, instanceID, delta.Name, delta.ParentInstanceID)
	}

	plan.Actions = actions

	return nil
}

// CheckPlanAccess applies the plan's allow list.
func CheckPlanAccess(plan *models.Plan, identity string) error {
	if plan.Allows(identity) {
		return nil
	}

	return &PlanError{Op: "CheckAccess", Plan: plan.UniqueName, Err: ErrAccessDenied, Message: "identity " + identity}
}
