package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker runs named dependency checks. A failing critical check
// makes the service unhealthy; any other failure only degrades it.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]CheckResult
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
	Interval time.Duration
	Timeout  time.Duration
}

type CheckResult struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{last: make(map[string]CheckResult)}
}

func (h *HealthChecker) AddCheck(check HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = 2 * time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// CheckAll runs every check concurrently and folds the results.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			results[i] = h.run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.Name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		if check.Critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

// LastResults returns the most recent result of every check.
func (h *HealthChecker) LastResults() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]CheckResult, len(h.last))
	for k, v := range h.last {
		out[k] = v
	}
	return out
}

// StartBackgroundChecks reruns each check on its interval until ctx ends.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.runPeriodically(ctx, check)
		}
	}
}

func (h *HealthChecker) runPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, check)
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	result := CheckResult{Status: StatusHealthy, CheckedAt: time.Now()}
	if err := check.Check(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}

	h.mu.Lock()
	h.last[check.Name] = result
	h.mu.Unlock()
	return result
}
