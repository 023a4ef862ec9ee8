// Package retry offers step implementations a retry coordinator: named
// policies, exponential/linear/fixed backoff with jitter, and a per-name
// circuit breaker that trips after repeated failures.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
)

// Strategy selects how the delay between attempts grows.
type Strategy int

const (
	StrategyFixed Strategy = iota
	StrategyLinear
	StrategyExponential
)

// Policy configures one named retry operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     Strategy
	Jitter       bool
}

// DefaultPolicy mirrors the engine default: three attempts, exponential
// backoff starting at 500ms, capped at 30s, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Strategy:     StrategyExponential,
		Jitter:       true,
	}
}

// RetryableFunc is a unit of work the coordinator may call more than once.
type RetryableFunc func(ctx context.Context) error

// Coordinator tracks named policies and one circuit breaker per name.
type Coordinator struct {
	mu       sync.RWMutex
	policies map[string]Policy
	breakers map[string]*circuitBreaker
	rng      *rand.Rand
}

// New returns a coordinator with no registered policies; Execute falls
// back to DefaultPolicy for unregistered names.
func New() *Coordinator {
	return &Coordinator{
		policies: make(map[string]Policy),
		breakers: make(map[string]*circuitBreaker),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RegisterPolicy associates a named policy, used by Execute for that name
// going forward.
func (c *Coordinator) RegisterPolicy(name string, policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[name] = policy
}

func (c *Coordinator) policyFor(name string) Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.policies[name]; ok {
		return p
	}
	return DefaultPolicy()
}

// Execute runs fn under name's registered policy (or the default),
// retrying on error until the policy's attempt budget or an open circuit
// breaker stops it.
func (c *Coordinator) Execute(ctx context.Context, name string, fn RetryableFunc) error {
	return c.ExecuteWithPolicy(ctx, name, c.policyFor(name), fn)
}

// ExecuteWithPolicy is Execute with an explicit policy, bypassing the
// coordinator's registry.
func (c *Coordinator) ExecuteWithPolicy(ctx context.Context, name string, policy Policy, fn RetryableFunc) error {
	cb := c.getCircuitBreaker(name)
	if !cb.CanExecute() {
		return taxonomy.New("CIRCUIT_BREAKER_OPEN", taxonomy.CategoryExecution, "circuit breaker open for "+name).
			WithContext(taxonomy.Context{"operation": name}).
			WithSuggested(taxonomy.ActionFallback, taxonomy.ActionManualIntervention)
	}

	bo := c.newBackOff(policy)

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return taxonomy.NewTimeoutError(name, 0, 0).WithCause(err)
		}

		err := fn(ctx)
		if err == nil {
			cb.RecordSuccess()
			return nil
		}
		lastErr = err
		cb.RecordFailure()

		if attempt >= policy.MaxAttempts-1 {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return taxonomy.NewTimeoutError(name, 0, 0).WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}

	return taxonomy.NewStepExecutionError(name, "all retry attempts exhausted", lastErr).
		WithContext(taxonomy.Context{"attempts": policy.MaxAttempts})
}

// newBackOff builds the backoff.BackOff implementation matching policy's
// strategy. Exponential and fixed delegate to cenkalti/backoff/v4;
// linear has no equivalent there, so it is a small local adapter
// satisfying the same interface.
func (c *Coordinator) newBackOff(policy Policy) backoff.BackOff {
	var base backoff.BackOff
	switch policy.Strategy {
	case StrategyFixed:
		base = backoff.NewConstantBackOff(policy.InitialDelay)
	case StrategyLinear:
		base = &linearBackOff{initial: policy.InitialDelay, max: policy.MaxDelay}
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = policy.InitialDelay
		eb.MaxInterval = policy.MaxDelay
		eb.MaxElapsedTime = 0 // the coordinator enforces MaxAttempts itself
		eb.RandomizationFactor = 0
		base = eb
	}
	if policy.Jitter {
		return &jitterBackOff{BackOff: base, rng: c.rng, mu: &c.mu}
	}
	return base
}

// linearBackOff grows the delay by one initial-interval increment per
// attempt, capped at max.
type linearBackOff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	d := l.initial * time.Duration(l.attempt)
	if l.max > 0 && d > l.max {
		d = l.max
	}
	return d
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// jitterBackOff adds up to 10% uniform jitter on top of a wrapped policy.
type jitterBackOff struct {
	backoff.BackOff
	rng *rand.Rand
	mu  *sync.RWMutex
}

func (j *jitterBackOff) NextBackOff() time.Duration {
	d := j.BackOff.NextBackOff()
	if d <= 0 || d == backoff.Stop {
		return d
	}
	j.mu.Lock()
	jitter := time.Duration(j.rng.Int63n(int64(d)/10 + 1))
	j.mu.Unlock()
	return d + jitter
}

func (c *Coordinator) getCircuitBreaker(name string) *circuitBreaker {
	c.mu.RLock()
	cb, ok := c.breakers[name]
	c.mu.RUnlock()
	if ok {
		return cb
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok = c.breakers[name]; ok {
		return cb
	}
	cb = newCircuitBreaker()
	c.breakers[name] = cb
	return cb
}

// CircuitState is the externally visible state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// circuitBreaker trips to open after failureThreshold consecutive
// failures (a success while closed resets the count), and probes half-open
// after recoveryTimeout has elapsed.
type circuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failures         int
	successes        int
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		state:            CircuitClosed,
		failureThreshold: 5,
		successThreshold: 2,
		recoveryTimeout:  30 * time.Second,
	}
}

func (cb *circuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.successes++
	if cb.state == CircuitClosed {
		cb.failures = 0
	}
	if cb.state == CircuitHalfOpen && cb.successes >= cb.successThreshold {
		cb.state = CircuitClosed
		cb.failures = 0
		cb.successes = 0
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()
	if cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
	}
}

// State reports a name's current circuit breaker state, for diagnostics.
func (c *Coordinator) State(name string) CircuitState {
	cb := c.getCircuitBreaker(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset clears a name's circuit breaker back to closed.
func (c *Coordinator) Reset(name string) {
	cb := c.getCircuitBreaker(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastFailure = time.Time{}
}
