package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errCheckFailed = errors.New("check failed")

// HealthChecker runs named dependency checks. A check's result is reused
// until its Interval has passed so that frequent readiness checks do not
// translate into calls on every dependency.
type HealthChecker struct {
	mu      sync.Mutex
	checks  []HealthCheck
	results map[string]checkResult
	now     func() time.Time
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type checkResult struct {
	err error
	at  time.Time
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make([]HealthCheck, 0),
		results: make(map[string]checkResult),
		now:     time.Now,
	}
}

// AddCheck registers check. interval 0 runs it on every CheckAll.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: now,
		Checks:    make(map[string]string),
	}

	for _, check := range h.checks {
		res, ok := h.results[check.Name]
		if !ok || check.Interval <= 0 || now.Sub(res.at) >= check.Interval {
			res = checkResult{err: runCheck(ctx, check), at: now}
			h.results[check.Name] = res
		}

		if res.err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name] = res.err.Error()
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

func runCheck(ctx context.Context, check HealthCheck) error {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}
	healthy, err := check.Check(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errCheckFailed
	}
	return nil
}
