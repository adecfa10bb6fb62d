// Package tracker is the authoritative in-memory view of every instance.
// All mutations funnel through the Tracker, which serializes them, persists
// the result and publishes change events; readers get copies.
package tracker
