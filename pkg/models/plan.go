// Package models defines the plan documents exchanged between controller and nodes.
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ExecuteResult is the outcome recorded on a plan or an action.
type ExecuteResult struct {
	Status       StatusType `json:"status"                 yaml:"status"`
	BranchStatus StatusType `json:"branch_status"          yaml:"branch_status"`
	Message      string     `json:"message,omitempty"      yaml:"message,omitempty"`
	ExitData     any        `json:"exit_data,omitempty"    yaml:"exit_data,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"   yaml:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// StartInfo records who asked for a plan instance.
type StartInfo struct {
	RequestUser   string    `json:"request_user"             yaml:"request_user"`
	RequestNumber string    `json:"request_number,omitempty" yaml:"request_number,omitempty"`
	RequestedAt   time.Time `json:"requested_at"             yaml:"requested_at"`
}

// Plan is a workflow document and, once it carries an InstanceID, one numbered
// execution of it.
type Plan struct {
	Name         string         `json:"name"                    yaml:"name"`
	UniqueName   string         `json:"unique_name"             yaml:"unique_name"`
	Description  string         `json:"description,omitempty"   yaml:"description,omitempty"`
	InstanceID   int64          `json:"instance_id"             yaml:"instance_id"`
	StartInfo    *StartInfo     `json:"start_info,omitempty"    yaml:"start_info,omitempty"`
	AllowedUsers []string       `json:"allowed_users,omitempty" yaml:"allowed_users,omitempty"`
	Actions      []*ActionItem  `json:"actions,omitempty"       yaml:"actions,omitempty"`
	Result       *ExecuteResult `json:"result,omitempty"        yaml:"result,omitempty"`
	Signature    []byte         `json:"signature,omitempty"     yaml:"signature,omitempty"`
}

// Key identifies a plan instance in logs, queues and file names.
func (p *Plan) Key() string {
	return fmt.Sprintf("%d_%s", p.InstanceID, p.Name)
}

// Status returns the plan status, or StatusNone when no result is recorded.
func (p *Plan) Status() StatusType {
	if p == nil || p.Result == nil {
		return StatusNone
	}

	return p.Result.Status
}

// Allows reports whether identity may start the plan. An empty list admits everyone.
func (p *Plan) Allows(identity string) bool {
	if len(p.AllowedUsers) == 0 {
		return true
	}

	return slices.ContainsFunc(p.AllowedUsers, func(u string) bool {
		return u == "*" || strings.EqualFold(u, identity)
	})
}

// Clone returns a deep copy of the plan document.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}

	c := *p
	if p.StartInfo != nil {
		si := *p.StartInfo
		c.StartInfo = &si
	}

	c.AllowedUsers = slices.Clone(p.AllowedUsers)
	c.Signature = slices.Clone(p.Signature)
	c.Result = p.Result.Clone()
	c.Actions = cloneActions(p.Actions)

	return &c
}

// NewStatusPlan builds a header-only document carrying just a result, as
// recorded when an instance is created or when its history cannot be read.
func NewStatusPlan(uniqueName string, instanceID int64, status StatusType, message string) *Plan {
	return &Plan{
		Name:       uniqueName,
		UniqueName: uniqueName,
		InstanceID: instanceID,
		Result: &ExecuteResult{
			Status:       status,
			BranchStatus: status,
			Message:      message,
		},
	}
}

// MergePlanStatus folds an incoming status document over the persisted one.
// A terminal persisted result is never replaced by a non-terminal incoming
// result, at plan or action level, and StartInfo survives when the incoming
// document omits it.
func MergePlanStatus(existing, incoming *Plan) *Plan {
	merged := incoming.Clone()
	if existing == nil {
		return merged
	}

	if merged.StartInfo == nil && existing.StartInfo != nil {
		si := *existing.StartInfo
		merged.StartInfo = &si
	}

	if existing.Status().IsTerminal() && !merged.Status().IsTerminal() {
		merged.Result = existing.Result.Clone()
	}

	merged.Actions = MergeActions(existing.Actions, merged.Actions)

	return merged
}

// Clone returns a copy of the result.
func (r *ExecuteResult) Clone() *ExecuteResult {
	if r == nil {
		return nil
	}

	c := *r

	return &c
}
