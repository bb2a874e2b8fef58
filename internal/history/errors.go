package history

import (
	"errors"
	"fmt"
)

// The service surfaces four error categories. Callers branch on category,
// never on message text:
//
//   - ValidationError: malformed or missing required input, never retried.
//   - NotFoundError: record absent or not visible to the caller. Deletes
//     report this for foreign-owned records too, so existence never leaks.
//   - ForbiddenError: valid record, wrong (or missing) owner identity.
//   - UpstreamError: an external collaborator failed; carries its status.

// ValidationError reports malformed or missing required input.
type ValidationError struct {
	// Field names the offending input in wire form, e.g. "ownerId".
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("missing required field %s", e.Field)
}

// NotFoundError reports that no record is visible under the given ID.
type NotFoundError struct {
	RecordID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %s not found", e.RecordID)
}

// ForbiddenError reports an ownership check failure on an existing record.
type ForbiddenError struct {
	RecordID string
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("record %s is not owned by the caller", e.RecordID)
}

// UpstreamError reports a failure from an external collaborator.
type UpstreamError struct {
	Service string // "identity" or "inference"
	Status  int    // upstream HTTP status, 0 when unreachable
	Err     error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s service failed with status %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s service unreachable: %v", e.Service, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *UpstreamError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError. Uses errors.As to
// handle wrapped errors.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
