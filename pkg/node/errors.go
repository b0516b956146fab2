// Package node runs plan instances handed over by a controller.
package node

import (
	"errors"
	"fmt"

	"github.com/dukex/conduit/pkg/scheduler"
	"github.com/dukex/conduit/pkg/signature"
)

var (
	// ErrInvalidRequest is returned for malformed start requests (400).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAdmissionRejected is returned while the node is draining (503).
	ErrAdmissionRejected = scheduler.ErrAdmissionRejected
	// ErrAlreadyScheduled is returned when the instance is already queued or running (409).
	ErrAlreadyScheduled = scheduler.ErrAlreadyScheduled
	// ErrSignatureInvalid is returned when signature verification fails (403).
	ErrSignatureInvalid = signature.ErrSignatureInvalid
	// ErrNoController is returned when reports have nowhere to go.
	ErrNoController = errors.New("no controller url configured or derivable from referrer")
)

// ServiceError wraps node errors with the failing operation.
type ServiceError struct {
	Op         string
	InstanceID int64
	Err        error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Op, e.InstanceID, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op string, instanceID int64, err error) *ServiceError {
	return &ServiceError{Op: op, InstanceID: instanceID, Err: err}
}

// IsValidationError reports errors that should map to 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrNoController)
}

// IsAdmissionRejected reports errors that should map to 503.
func IsAdmissionRejected(err error) bool {
	return errors.Is(err, ErrAdmissionRejected)
}

// IsSignatureError reports errors that should map to 403.
func IsSignatureError(err error) bool {
	return signature.IsSignatureError(err)
}

// IsConflict reports errors that should map to 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyScheduled)
}
