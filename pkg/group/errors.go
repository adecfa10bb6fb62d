package group

import (
	"fmt"

	"github.com/cuemby/stride/pkg/pathid"
)

// ValidationError reports an update that violates a group or spec invariant.
// No state is changed when it is returned.
type ValidationError struct {
	ID     pathid.PathID
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.ID, e.Reason)
}

// ConflictError reports an id collision between a group and a run-spec.
type ConflictError struct {
	ID     pathid.PathID
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.ID, e.Reason)
}
