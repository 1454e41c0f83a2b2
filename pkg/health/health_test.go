package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPCheckerOpenPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	result := NewTCPChecker(l.Addr().String()).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
}

func TestTCPCheckerClosedPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	l.Close()

	result := NewLoopbackChecker(port).Check(context.Background())
	assert.False(t, result.Healthy)
}

type flakyChecker struct {
	failures int
	calls    int
}

func (f *flakyChecker) Check(ctx context.Context) Result {
	f.calls++
	return Result{Healthy: f.calls > f.failures, Message: "warming up"}
}

func TestWaitHealthy(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		timeout  time.Duration
		wantErr  bool
	}{
		{name: "healthy immediately", failures: 0, timeout: time.Second},
		{name: "healthy after retries", failures: 3, timeout: time.Second},
		{name: "never healthy", failures: 1000, timeout: 50 * time.Millisecond, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			err := WaitHealthy(ctx, &flakyChecker{failures: tt.failures}, 5*time.Millisecond)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "warming up")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
