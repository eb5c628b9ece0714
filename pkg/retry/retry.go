// Package retry wraps single remote calls with bounded, compounding
// exponential backoff on transient network failure.
//
// The retry loop is an explicit state machine: State carries the attempt
// count, the current timeout and the last error, and Policy.Step advances it
// without sleeping. Executor drives the machine and sleeps through an
// injected SleepFunc so tests never wait on a real clock.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/memosweep/pkg/remote"
)

// ErrExhaustedRetries is matched by every *ExhaustedError.
var ErrExhaustedRetries = errors.New("retries exhausted")

// ExhaustedError is returned once the attempt ceiling is reached.
type ExhaustedError struct {
	// Op names the wrapped operation.
	Op string

	// Attempts is the total number of invocations made.
	Attempts int

	// Last is the error returned by the final attempt.
	Last error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, ErrExhaustedRetries, e.Attempts, e.Last)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is matches ErrExhaustedRetries.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhaustedRetries }

// Policy configures the retry state machine.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialTimeout seeds the compounding wait.
	InitialTimeout time.Duration

	// BackoffFactor multiplies the timeout on every retry.
	BackoffFactor float64

	// Retryable decides which errors are retried. Nil means
	// remote.IsTransient.
	Retryable func(error) bool
}

// Defaults.
const (
	DefaultMaxRetries     = 5
	DefaultInitialTimeout = 60 * time.Second
	DefaultBackoffFactor  = 1.5
)

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		InitialTimeout: DefaultInitialTimeout,
		BackoffFactor:  DefaultBackoffFactor,
	}
}

// State is the per-operation retry state.
type State struct {
	// Attempt counts completed invocations.
	Attempt int

	// CurrentTimeout is the compounding timeout base.
	CurrentTimeout time.Duration

	// LastErr is the error of the latest invocation.
	LastErr error
}

// Start returns the initial state for a new operation.
func (p Policy) Start() State {
	return State{CurrentTimeout: p.InitialTimeout}
}

// Step records the outcome err of one invocation and returns the next state,
// the wait before the next attempt and whether another attempt is allowed.
//
// For a retryable error the wait is CurrentTimeout*BackoffFactor and the
// next CurrentTimeout is that same value, so waits compound.
func (p Policy) Step(s State, err error) (State, time.Duration, bool) {
	s.Attempt++
	s.LastErr = err
	if err == nil || !p.retryable(err) || s.Attempt > p.MaxRetries {
		return s, 0, false
	}
	wait := scale(s.CurrentTimeout, p.factor())
	s.CurrentTimeout = wait
	return s, wait, true
}

// Schedule returns the waits the policy would apply for n consecutive
// retryable failures.
func (p Policy) Schedule(n int) []time.Duration {
	var out []time.Duration
	s := p.Start()
	for i := 0; i < n; i++ {
		var wait time.Duration
		var again bool
		s, wait, again = p.Step(s, remote.ErrTransientNetwork)
		if !again {
			break
		}
		out = append(out, wait)
	}
	return out
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return remote.IsTransient(err)
}

func (p Policy) factor() float64 {
	if p.BackoffFactor < 1 {
		return 1
	}
	return p.BackoffFactor
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor runs operations under a Policy.
//
// Executor is safe for concurrent use; each call owns its own State.
type Executor struct {
	policy Policy
	sleep  SleepFunc
	logger *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the real-clock sleep.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor. Zero-valued policy fields take defaults.
func New(policy Policy, opts ...Option) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialTimeout <= 0 {
		policy.InitialTimeout = DefaultInitialTimeout
	}
	if policy.BackoffFactor <= 0 {
		policy.BackoffFactor = DefaultBackoffFactor
	}
	e := &Executor{
		policy: policy,
		sleep:  Sleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Sleeper returns the executor's sleep function so callers layering their
// own waits share the same clock.
func (e *Executor) Sleeper() SleepFunc { return e.sleep }

// Do invokes fn until it succeeds, fails with a non-retryable error or the
// attempt ceiling is reached.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	s := e.policy.Start()
	for {
		err := fn(ctx)
		var wait time.Duration
		var again bool
		s, wait, again = e.policy.Step(s, err)
		if err == nil {
			return nil
		}
		if !again {
			if s.Attempt > e.policy.MaxRetries && e.policy.retryable(err) {
				e.logger.Error("Max retries exceeded",
					zap.String("op", op),
					zap.Int("attempts", s.Attempt),
					zap.Error(err))
				return &ExhaustedError{Op: op, Attempts: s.Attempt, Last: err}
			}
			return err
		}

		e.logger.Warn(fmt.Sprintf("Timeout (attempt %d), retrying in %.1fs...", s.Attempt, wait.Seconds()),
			zap.String("op", op),
			zap.Int("attempt", s.Attempt),
			zap.Duration("wait", wait),
			zap.Error(err))

		if serr := e.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

// Run is Do for operations returning a value.
func Run[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsExhausted reports whether err is an *ExhaustedError.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhaustedRetries)
}

// IsConnectivityLoss reports whether err signals that the remote connection
// is gone: a transient network failure, or retries exhausted on one.
func IsConnectivityLoss(err error) bool {
	if err == nil {
		return false
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return remote.IsTransient(ex.Last)
	}
	return remote.IsTransient(err)
}
