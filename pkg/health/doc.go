// Package health probes tasks for liveness and readiness. Health checks
// feed the instance tracker; readiness checks gate deployment steps until
// new instances answer positively.
package health
