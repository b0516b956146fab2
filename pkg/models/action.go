package models

import (
	"maps"
	"slices"
)

// HandlerInfo names the step implementation for an action and its configuration.
type HandlerInfo struct {
	Type   string         `json:"type"             yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ActionItem is one node in a plan's execution tree.
type ActionItem struct {
	Name             string         `json:"name"                  yaml:"name"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	Handler          HandlerInfo    `json:"handler"               yaml:"handler"`
	Parameters       map[string]any `json:"parameters,omitempty"  yaml:"parameters,omitempty"`
	ExecuteCase      StatusType     `json:"execute_case,omitempty" yaml:"execute_case,omitempty"`
	InstanceID       int64          `json:"instance_id"           yaml:"instance_id"`
	ParentInstanceID int64          `json:"parent_instance_id"    yaml:"parent_instance_id"`
	Result           *ExecuteResult `json:"result,omitempty"      yaml:"result,omitempty"`
	Actions          []*ActionItem  `json:"actions,omitempty"     yaml:"actions,omitempty"`
}

// Status returns the action status, or StatusNone when no result is recorded.
func (a *ActionItem) Status() StatusType {
	if a == nil || a.Result == nil {
		return StatusNone
	}

	return a.Result.Status
}

// RunsAfter reports whether the action should run given its parent's status.
func (a *ActionItem) RunsAfter(parent StatusType) bool {
	if a.ExecuteCase == "" {
		return parent == StatusComplete
	}

	return a.ExecuteCase == parent
}

// Clone returns a deep copy of the action and its subtree.
func (a *ActionItem) Clone() *ActionItem {
	if a == nil {
		return nil
	}

	c := *a
	c.Handler.Config = maps.Clone(a.Handler.Config)
	c.Parameters = maps.Clone(a.Parameters)
	c.Result = a.Result.Clone()
	c.Actions = cloneActions(a.Actions)

	return &c
}

// Delta returns a copy of the action without its children, the shape sent as
// an action-level status update.
func (a *ActionItem) Delta() *ActionItem {
	c := a.Clone()
	c.Actions = nil

	return c
}

func cloneActions(actions []*ActionItem) []*ActionItem {
	if actions == nil {
		return nil
	}

	out := make([]*ActionItem, len(actions))
	for i, a := range actions {
		out[i] = a.Clone()
	}

	return out
}

// WalkActions visits every action depth-first; returning false stops the walk.
func WalkActions(actions []*ActionItem, fn func(*ActionItem) bool) bool {
	for _, a := range actions {
		if !fn(a) {
			return false
		}

		if !WalkActions(a.Actions, fn) {
			return false
		}
	}

	return true
}

// FindAction returns the action with the given instance id.
func FindAction(actions []*ActionItem, instanceID int64) *ActionItem {
	var found *ActionItem

	WalkActions(actions, func(a *ActionItem) bool {
		if a.InstanceID == instanceID {
			found = a

			return false
		}

		return true
	})

	return found
}

// FindActionAndReplace applies an action delta to the tree rooted at actions.
//
// The parent is located by delta.ParentInstanceID (0 is the plan root). Within
// the parent, an existing entry with the same Name is updated in place;
// otherwise the delta is appended. The second return value is false when the
// parent cannot be located, in which case actions is returned unchanged.
func FindActionAndReplace(actions []*ActionItem, delta *ActionItem) ([]*ActionItem, bool) {
	if delta.ParentInstanceID == 0 {
		return upsertAction(actions, delta), true
	}

	parent := FindAction(actions, delta.ParentInstanceID)
	if parent == nil {
		return actions, false
	}

	parent.Actions = upsertAction(parent.Actions, delta)

	return actions, true
}

// MergeActions folds incoming over existing level by level, matching siblings
// by Name. Existing entries absent from incoming are kept, and a terminal
// existing result is never replaced by a non-terminal incoming one.
func MergeActions(existing, incoming []*ActionItem) []*ActionItem {
	merged := cloneActions(existing)

	for _, in := range incoming {
		i := slices.IndexFunc(merged, func(a *ActionItem) bool { return a.Name == in.Name })
		if i < 0 {
			merged = append(merged, in.Clone())

			continue
		}

		current := merged[i]
		next := in.Clone()
		next.Actions = MergeActions(current.Actions, in.Actions)

		if current.Status().IsTerminal() && !next.Status().IsTerminal() {
			next.Result = current.Result
		}

		if next.InstanceID == 0 {
			next.InstanceID = current.InstanceID
		}

		merged[i] = next
	}

	return merged
}

func upsertAction(siblings []*ActionItem, delta *ActionItem) []*ActionItem {
	for i, existing := range siblings {
		if existing.Name != delta.Name {
			continue
		}

		next := delta.Clone()
		if len(next.Actions) == 0 {
			next.Actions = existing.Actions
		}

		if existing.Status().IsTerminal() && !next.Status().IsTerminal() {
			next.Result = existing.Result
		}

		if next.InstanceID == 0 {
			next.InstanceID = existing.InstanceID
		}

		siblings[i] = next

		return siblings
	}

	return append(siblings, delta.Clone())
}
