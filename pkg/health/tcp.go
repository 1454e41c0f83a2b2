package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TCPChecker reports healthy once a TCP connection to Address succeeds
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a checker for a host:port address
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 2 * time.Second,
	}
}

// NewLoopbackChecker creates a checker for a port on 127.0.0.1
func NewLoopbackChecker(port uint16) *TCPChecker {
	return NewTCPChecker(net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
}

// Check dials Address once
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection to %s failed: %v", t.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
