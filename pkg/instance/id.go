package instance

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/cuemby/stride/pkg/pathid"
	"github.com/google/uuid"
)

// Instance id prefixes. New instances use PrefixInstance; PrefixLegacy is
// accepted for ids created by older releases.
const (
	PrefixInstance = "instance-"
	PrefixLegacy   = "marathon-"
)

// ErrMalformedInstanceID is returned when an instance id string does not
// match the expected format.
var ErrMalformedInstanceID = errors.New("malformed instance id")

var idRe = regexp.MustCompile(`^(.+)\.(instance-|marathon-)([^.]+)$`)

// ID identifies one instance of a run-spec. The canonical string form is
// <safeRunSpecID>.<prefix><uuid>, with the uuid RFC-4122 version 1 so ids
// sort roughly by creation time.
type ID struct {
	RunSpecID pathid.PathID
	Prefix    string
	UUID      uuid.UUID
}

// NewID creates a fresh id for runSpecID with a time-based uuid.
func NewID(runSpecID pathid.PathID) ID {
	return ID{
		RunSpecID: runSpecID,
		Prefix:    PrefixInstance,
		UUID:      uuid.Must(uuid.NewUUID()),
	}
}

// ParseID parses the canonical string form of an instance id.
func ParseID(s string) (ID, error) {
	m := idRe.FindStringSubmatch(s)
	if m == nil {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedInstanceID, s)
	}
	runSpecID, err := pathid.ParseSafe(m[1])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstanceID, s, err)
	}
	u, err := uuid.Parse(m[3])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstanceID, s, err)
	}
	return ID{RunSpecID: runSpecID, Prefix: m[2], UUID: u}, nil
}

// String returns the canonical form.
func (id ID) String() string {
	return id.RunSpecID.Safe() + "." + id.Prefix + id.UUID.String()
}

// Equal reports whether two ids are the same instance.
func (id ID) Equal(other ID) bool {
	return id.Prefix == other.Prefix && id.UUID == other.UUID && id.RunSpecID.Equal(other.RunSpecID)
}

// TaskIDFor derives the task id for a container of this instance. Apps use
// a single unnamed container.
func (id ID) TaskIDFor(container string) string {
	if container == "" {
		return id.String()
	}
	return id.String() + "." + container
}
