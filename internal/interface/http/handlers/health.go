package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc performs a single check and returns an error if it fails.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus represents the overall health status of the service.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type namedCheck struct {
	fn       HealthCheckFunc
	critical bool
}

// CompositeHealthChecker runs named checks in parallel. A failing critical
// check makes the service unhealthy. A failing optional check only marks it
// not ready.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]namedCheck
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a new composite health checker.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]namedCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout sets the timeout for individual health checks.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// AddCheck adds a critical check.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(name, check, true)
}

// AddOptionalCheck adds a check whose failure does not make the service unhealthy.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(name, check, false)
}

func (c *CompositeHealthChecker) add(name string, check HealthCheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = namedCheck{fn: check, critical: critical}
}

// Check performs all health checks and returns the aggregated status.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]namedCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := check.fn(checkCtx)

			result := CheckResult{
				Healthy:  err == nil,
				Critical: check.critical,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for name, r := range status.Checks {
		if r.Healthy {
			continue
		}
		failed = append(failed, name)
		status.Ready = false
		if r.Critical {
			status.Healthy = false
		}
	}
	sort.Strings(failed)

	if len(failed) == 0 {
		status.Message = "All checks passed"
	} else {
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}

	return status
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDEFINED HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is implemented by the database connection and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck creates a health check from a Pinger.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// GatewayStatus is the part of the WAHA client the health checks use.
type GatewayStatus interface {
	HealthCheck(ctx context.Context) bool
	IsSessionReady(ctx context.Context, session string) bool
}

// ErrGatewayDown and ErrSessionNotReady are reported by the gateway checks.
var (
	ErrGatewayDown     = errors.New("gateway server unreachable")
	ErrSessionNotReady = errors.New("gateway session not ready")
)

// NewGatewayCheck checks that the gateway server answers.
func NewGatewayCheck(gw GatewayStatus) HealthCheckFunc {
	return func(ctx context.Context) error {
		if !gw.HealthCheck(ctx) {
			return ErrGatewayDown
		}
		return nil
	}
}

// NewSessionCheck checks that the WhatsApp session is connected.
func NewSessionCheck(gw GatewayStatus, session string) HealthCheckFunc {
	return func(ctx context.Context) error {
		if !gw.IsSessionReady(ctx, session) {
			return fmt.Errorf("%w: %s", ErrSessionNotReady, session)
		}
		return nil
	}
}

// BreakerState is satisfied by *circuitbreaker.CircuitBreaker.
type BreakerState interface {
	Name() string
	IsOpen() bool
}

// ErrBreakerOpen is reported while gateway calls are short-circuited.
var ErrBreakerOpen = errors.New("circuit breaker open")

// NewBreakerCheck fails while the breaker rejects calls.
func NewBreakerCheck(b BreakerState) HealthCheckFunc {
	return func(context.Context) error {
		if b.IsOpen() {
			return fmt.Errorf("%w: %s", ErrBreakerOpen, b.Name())
		}
		return nil
	}
}
