package instance

import "time"

// ReservationState is the lifecycle state of a persistent resource claim.
type ReservationState string

const (
	// ReservationNew was created but never launched.
	ReservationNew ReservationState = "new"

	// ReservationLaunched backs a launched instance; no timeout applies.
	ReservationLaunched ReservationState = "launched"

	// ReservationSuspended belongs to a stopped instance.
	ReservationSuspended ReservationState = "suspended"

	// ReservationGarbage is scheduled for release.
	ReservationGarbage ReservationState = "garbage"

	// ReservationUnknown lost track of its resources.
	ReservationUnknown ReservationState = "unknown"
)

// Reservation is a persistent resource claim bound to an instance id. It
// outlives its instance only in the suspended and garbage states.
type Reservation struct {
	ID        string
	VolumeIDs []string
	State     ReservationState

	// Deadline is when a ReservationTimeout fires for the current state.
	// Zero for states without a timeout.
	Deadline time.Time
}

// SimplifiedReservationID derives a reservation id from an instance id.
// Legacy task-derived forms are accepted on load but never generated.
func SimplifiedReservationID(id ID) string {
	return id.String()
}

// NewReservation creates a reservation in the new state with the given
// timeout deadline.
func NewReservation(id ID, volumeIDs []string, deadline time.Time) *Reservation {
	return &Reservation{
		ID:        SimplifiedReservationID(id),
		VolumeIDs: volumeIDs,
		State:     ReservationNew,
		Deadline:  deadline,
	}
}

// TimedOut reports whether the state's deadline has passed.
func (r *Reservation) TimedOut(now time.Time) bool {
	return !r.Deadline.IsZero() && now.After(r.Deadline)
}

// AdvanceOnTimeout moves a timed-out reservation forward: new, suspended and
// unknown reservations become garbage; garbage stays garbage and is expunged
// by its owner.
func (r *Reservation) AdvanceOnTimeout(deadline time.Time) {
	switch r.State {
	case ReservationNew, ReservationSuspended, ReservationUnknown:
		r.State = ReservationGarbage
		r.Deadline = deadline
	case ReservationGarbage:
		r.Deadline = deadline
	}
}
