// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrPlanNotFound indicates no plan definition exists under the given name.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInstanceNotFound indicates no history exists for the given plan instance.
	ErrInstanceNotFound = errors.New("plan instance not found")

	// ErrActionNotFound indicates an action delta whose parent could not be located.
	ErrActionNotFound = errors.New("action not found")

	// ErrAccessDenied indicates the identity may not use the plan.
	ErrAccessDenied = errors.New("access denied")
)

// PlanError wraps plan-related errors with additional context.
type PlanError struct {
	Op         string // Operation being performed (e.g., "GetPlan", "UpdatePlanActionStatus")
	Plan       string // Plan unique name
	InstanceID int64  // Instance id if applicable
	Err        error  // Underlying error
	Message    string // Additional context message
}

func (e *PlanError) Error() string {
	target := e.Plan
	if e.InstanceID != 0 {
		target = fmt.Sprintf("%s/%d", e.Plan, e.InstanceID)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for plan %s: %s (%v)", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for plan %s: %v", e.Op, target, e.Err)
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for plan errors.
func (e *PlanError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewPlanError creates a new plan error with context.
func NewPlanError(op, plan string, err error) *PlanError {
	return &PlanError{
		Op:   op,
		Plan: plan,
		Err:  err,
	}
}

// NewInstanceError creates a new plan error for one instance.
func NewInstanceError(op, plan string, instanceID int64, err error) *PlanError {
	return &PlanError{
		Op:         op,
		Plan:       plan,
		InstanceID: instanceID,
		Err:        err,
	}
}

// NewActionNotFoundError reports a delta whose parent could not be located.
func NewActionNotFoundError(plan string, instanceID int64, action string, parentInstanceID int64) *PlanError {
	return &PlanError{
		Op:         "UpdatePlanActionStatus",
		Plan:       plan,
		InstanceID: instanceID,
		Err:        ErrActionNotFound,
		Message:    fmt.Sprintf("could not find action %s with parent instance %d", action, parentInstanceID),
	}
}

// IsPlanNotFound checks if an error indicates a plan definition was not found.
func IsPlanNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound)
}

// IsInstanceNotFound checks if an error indicates instance history was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsActionNotFound checks if an error indicates an action parent was not found.
func IsActionNotFound(err error) bool {
	return errors.Is(err, ErrActionNotFound)
}

// IsAccessDenied checks if an error indicates an authorization failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
