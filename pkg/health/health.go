package health

import (
	"context"
	"fmt"
	"time"
)

// Result represents the outcome of a readiness probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one endpoint
type Checker interface {
	Check(ctx context.Context) Result
}

// WaitHealthy polls checker every interval until it reports healthy or ctx ends.
// The last failing result is included in the returned error.
func WaitHealthy(ctx context.Context, checker Checker, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Result
	for {
		last = checker.Check(ctx)
		if last.Healthy {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("not ready: %s: %w", last.Message, ctx.Err())
		case <-ticker.C:
		}
	}
}
