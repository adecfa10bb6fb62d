package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/stride/pkg/spec"
)

// TCPChecker probes a task by opening a TCP connection.
type TCPChecker struct {
	// Address is the TCP address to connect to, e.g. "10.0.1.7:6379"
	Address string

	// Timeout is the connection timeout
	Timeout time.Duration
}

// NewTCPChecker creates a TCP checker against host:port.
func NewTCPChecker(host string, port int, timeout time.Duration) *TCPChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &TCPChecker{
		Address: net.JoinHostPort(host, strconv.Itoa(port)),
		Timeout: timeout,
	}
}

// Check performs the TCP probe
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe protocol
func (t *TCPChecker) Type() spec.CheckType {
	return spec.CheckTypeTCP
}
