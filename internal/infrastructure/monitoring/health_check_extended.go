package monitoring

import (
	"context"
	"fmt"
	"time"
)

// RepositoryChecker is satisfied by the repository factory.
type RepositoryChecker interface {
	Backend() string
	HealthCheck(ctx context.Context) error
}

// AddRepositoryCheck registers the call store as a critical check.
func (h *HealthChecker) AddRepositoryCheck(repo RepositoryChecker, interval, timeout time.Duration) {
	h.AddCheck(HealthCheck{
		Name: "repository",
		Check: func(ctx context.Context) error {
			if err := repo.HealthCheck(ctx); err != nil {
				return fmt.Errorf("%s: %w", repo.Backend(), err)
			}
			return nil
		},
		Critical: true,
		Interval: interval,
		Timeout:  timeout,
	})
}

// AddRelayCheck reports the relay degraded once it holds more than
// maxConnections sockets.
func (h *HealthChecker) AddRelayCheck(stats func() (rooms, connections int), maxConnections int, interval time.Duration) {
	h.AddCheck(HealthCheck{
		Name: "relay",
		Check: func(context.Context) error {
			_, connections := stats()
			if maxConnections > 0 && connections > maxConnections {
				return fmt.Errorf("%d connections exceeds %d", connections, maxConnections)
			}
			return nil
		},
		Interval: interval,
	})
}

// IsReady reports whether no critical check is failing.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}
