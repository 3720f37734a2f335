package health

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTCPChecker_Reachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	go func() {
		conn, err := lis.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	checker := NewTCPChecker(lis.Addr().String())
	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
	if result.Duration < 0 {
		t.Error("expected non-negative duration")
	}
}

func TestTCPChecker_Unreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close() // nothing listening anymore

	checker := NewTCPChecker(addr)
	checker.Timeout = time.Second
	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("expected unhealthy for a closed port")
	}
}

func TestStatus_UnhealthyAfterRetries(t *testing.T) {
	cfg := Config{Retries: 3, Timeout: time.Second}
	s := NewStatus()
	if !s.Healthy {
		t.Fatal("expected Status to start healthy")
	}

	failure := Result{Healthy: false, Message: "connection failed"}
	s.Update(failure, cfg)
	s.Update(failure, cfg)
	if !s.Healthy {
		t.Fatal("expected Status to stay healthy before Retries consecutive failures")
	}
	s.Update(failure, cfg)
	if s.Healthy {
		t.Fatal("expected Status to go unhealthy after Retries consecutive failures")
	}

	s.Update(Result{Healthy: true}, cfg)
	if !s.Healthy {
		t.Fatal("expected a single success to mark Status healthy again")
	}
	if s.ConsecutiveFailures != 0 {
		t.Fatalf("expected ConsecutiveFailures reset to 0, got %d", s.ConsecutiveFailures)
	}
}
