package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker reports an external-scheduler gRPC endpoint reachable by
// opening and immediately closing a TCP connection to it — cheaper
// than a full gRPC round-trip and good enough to detect the common
// failure (host down, port closed) dialSchedulers itself can't catch
// since grpc.NewClient connects lazily.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker returns a TCPChecker for address with a 5s default
// connect timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

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
		Message:   fmt.Sprintf("TCP connection to %s succeeded", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout overrides the connect timeout and returns t for chaining.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
