package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker dials a node's bare host:port and reports whether the
// connection succeeds, without speaking any of the wire protocol's
// framing — enough to tell "nothing is listening yet" apart from a
// handshake-level failure.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker returns a TCPChecker with a 5s default timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

// Check dials t.Address once.
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
	conn.Close()
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("tcp connection to %s succeeded", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
