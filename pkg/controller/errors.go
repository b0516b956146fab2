// Package controller owns plan definitions and instance history and hands
// plan instances to nodes.
package controller

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dukex/conduit/pkg/client"
	"github.com/dukex/conduit/pkg/persistence"
)

var (
	// ErrInvalidRequest is returned for malformed requests (400).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAccessDenied is returned when the caller may not use the plan (403).
	ErrAccessDenied = persistence.ErrAccessDenied
	// ErrPlanNotFound is returned for unknown plan definitions (404).
	ErrPlanNotFound = persistence.ErrPlanNotFound
	// ErrNodeUnavailable is returned when the node is draining or unreachable (503).
	ErrNodeUnavailable = errors.New("node unavailable")
	// ErrNodeRejected is returned when the node refused the plan (502).
	ErrNodeRejected = errors.New("node rejected the plan")
	// ErrNoNode is returned when no node url is configured nor given.
	ErrNoNode = errors.New("no node url configured")
)

// ServiceError wraps controller errors with the failing operation.
type ServiceError struct {
	Op      string
	Plan    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Plan, e.Message, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Plan, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op, plan string, err error) *ServiceError {
	return &ServiceError{Op: op, Plan: plan, Err: err}
}

// nodeError classifies a failed node call.
func nodeError(err error) error {
	switch code := client.StatusCode(err); {
	case code == 0, code == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %w", ErrNodeUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrNodeRejected, err)
	}
}

// IsValidationError reports errors that should map to 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrNoNode)
}

// IsAccessDenied reports errors that should map to 403.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsNotFound reports errors that should map to 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) || persistence.IsInstanceNotFound(err)
}

// IsNodeUnavailable reports errors that should map to 503.
func IsNodeUnavailable(err error) bool {
	return errors.Is(err, ErrNodeUnavailable)
}

// IsNodeRejected reports errors that should map to 502.
func IsNodeRejected(err error) bool {
	return errors.Is(err, ErrNodeRejected)
}
