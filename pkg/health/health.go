// Package health runs named liveness and readiness checks with per-check
// timeouts and a consecutive-failure threshold.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

// Probe selects which set of checks to run.
type Probe string

const (
	Liveness  Probe = "liveness"
	Readiness Probe = "readiness"
)

const (
	defaultTimeout          = 5 * time.Second
	defaultFailureThreshold = 3
)

// Check is a single named health check. Check returns nil when healthy.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function to the Check interface.
type CheckFunc struct {
	name string
	fn   func(context.Context) error
}

// NewCheckFunc creates a new CheckFunc with the given name and function.
func NewCheckFunc(name string, fn func(context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string                    { return c.name }
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckResult is the outcome of one check execution.
type CheckResult struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Failures int           `json:"consecutive_failures,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// Status aggregates the results of one probe.
type Status struct {
	Probe   Probe         `json:"probe"`
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// HealthChecker holds the registered checks and their failure counters.
type HealthChecker struct {
	timeout          time.Duration
	failureThreshold int
	logger           logger.Logger

	mu       sync.RWMutex
	checks   map[Probe][]Check
	failures map[string]int
}

// Option configures a HealthChecker.
type Option func(*HealthChecker)

// WithTimeout bounds each individual check. Default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(h *HealthChecker) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger for check failures.
func WithLogger(l logger.Logger) Option {
	return func(h *HealthChecker) {
		h.logger = l
	}
}

// WithFailureThreshold sets how many consecutive failures a check needs
// before it reports unhealthy. Default is 3.
func WithFailureThreshold(threshold int) Option {
	return func(h *HealthChecker) {
		if threshold > 0 {
			h.failureThreshold = threshold
		}
	}
}

// New creates a HealthChecker.
func New(opts ...Option) *HealthChecker {
	h := &HealthChecker{
		timeout:          defaultTimeout,
		failureThreshold: defaultFailureThreshold,
		logger:           logger.NewNopLogger(),
		checks:           make(map[Probe][]Check),
		failures:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddLivenessCheck registers a check that decides whether the process should be restarted.
func (h *HealthChecker) AddLivenessCheck(c Check) { h.add(Liveness, c) }

// AddReadinessCheck registers a check that decides whether the relay can serve messages.
func (h *HealthChecker) AddReadinessCheck(c Check) { h.add(Readiness, c) }

func (h *HealthChecker) add(p Probe, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[p] = append(h.checks[p], c)
}

// CheckLiveness runs the liveness checks.
func (h *HealthChecker) CheckLiveness(ctx context.Context) (*Status, error) {
	return h.Run(ctx, Liveness)
}

// CheckReadiness runs the readiness checks.
func (h *HealthChecker) CheckReadiness(ctx context.Context) (*Status, error) {
	return h.Run(ctx, Readiness)
}

// Run executes every check of the probe concurrently. The returned error
// lists each check that is past its failure threshold.
func (h *HealthChecker) Run(ctx context.Context, p Probe) (*Status, error) {
	h.mu.RLock()
	checks := append([]Check(nil), h.checks[p]...)
	h.mu.RUnlock()

	status := &Status{Probe: p, Healthy: true, Checks: make([]CheckResult, len(checks))}

	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status.Checks[i] = h.execute(ctx, c)
		}()
	}
	wg.Wait()

	sort.SliceStable(status.Checks, func(i, j int) bool { return status.Checks[i].Name < status.Checks[j].Name })

	var result error
	for _, r := range status.Checks {
		if !r.Healthy {
			status.Healthy = false
			result = multierror.Append(result, fmt.Errorf("%s: %s", r.Name, r.Error))
		}
	}
	if result != nil {
		return status, fmt.Errorf("%s checks failed: %w", p, result)
	}
	return status, nil
}

func (h *HealthChecker) execute(parent context.Context, c Check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{Name: c.Name(), Healthy: true, Latency: time.Since(start)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.failures[res.Name] = 0
		return res
	}

	h.failures[res.Name]++
	res.Failures = h.failures[res.Name]
	if res.Failures < h.failureThreshold {
		h.logger.Debug("Health check failed below threshold",
			logger.StringField("check", res.Name),
			logger.ErrorField(err),
			logger.IntField("failures", res.Failures),
			logger.IntField("threshold", h.failureThreshold),
		)
		return res
	}

	res.Healthy = false
	res.Error = err.Error()
	h.logger.Warn("Health check failed",
		logger.StringField("check", res.Name),
		logger.ErrorField(err),
		logger.IntField("failures", res.Failures),
		logger.DurationField("latency", res.Latency),
	)
	return res
}
