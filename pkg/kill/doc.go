// Package kill drives non-terminal tasks to a killed state through the
// offer layer. Kills are throttled to a configurable chunk size, re-issued
// after a retry timeout and confirmed against the instance event stream.
package kill
