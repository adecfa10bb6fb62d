// Package instance models the runtime counterpart of a run-spec: instances,
// their tasks, the condition reducer that folds task conditions into one
// instance condition, health aggregation, goals and reservations.
package instance
