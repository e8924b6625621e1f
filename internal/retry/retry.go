// Package retry wraps unreliable network operations (LLM requests, page
// navigation) with bounded, classified retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// Policy configures retry behavior. The wait before retry N (N >= 1) is
// min(BaseDelay * 2^(N-1), MaxDelay); rate-limited failures always wait
// RateLimitDelay.
type Policy struct {
	MaxAttempts    int           `default:"3" validate:"gte=1"`
	BaseDelay      time.Duration `default:"2s" validate:"gte=0"`
	RateLimitDelay time.Duration `default:"60s" validate:"gte=0"`
	MaxDelay       time.Duration `default:"30s" validate:"gte=0"`
	// AttemptTimeout bounds a single attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration `validate:"gte=0"`
}

// DefaultPolicy returns the policy built from the struct tag defaults.
func DefaultPolicy() Policy {
	var p Policy
	_ = defaults.Set(&p)
	return p
}

func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	return nil
}

// Backoff returns the exponential delay before retry n.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		if delay > time.Duration(1<<62)/2 {
			break
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// DelayFor returns the wait before retry n after a failure of the given class.
func (p Policy) DelayFor(class Class, n int) time.Duration {
	if class == ClassRateLimited {
		return p.RateLimitDelay
	}
	return p.Backoff(n)
}

// Class is the retry classification of a failure.
type Class int

const (
	ClassTransient Class = iota
	ClassRateLimited
	ClassClient
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassClient:
		return "client"
	default:
		return "transient"
	}
}

// StatusCoder is implemented by errors that carry an HTTP-like status.
type StatusCoder interface {
	StatusCode() int
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

var statusRE = regexp.MustCompile(`(?i)status(?:\s*code)?[:=\s]+(\d{3})`)

// Classify decides how a failure should be retried.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return ClassClient
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	if m := statusRE.FindStringSubmatch(msg); len(m) == 2 {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return classifyStatus(code)
		}
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return ClassRateLimited
	}
	return ClassTransient
}

func classifyStatus(code int) Class {
	switch {
	case code == 429:
		return ClassRateLimited
	case code == 408:
		return ClassTransient
	case code >= 400 && code < 500:
		return ClassClient
	default:
		return ClassTransient
	}
}

// Error is the terminal failure of a retried call.
type Error struct {
	Name     string
	Attempts int
	Class    Class
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempt(s) (%s): %v", e.Name, e.Attempts, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Attempt describes one finished attempt, reported to the observer.
type Attempt struct {
	Name   string
	Number int
	Err    error
	Class  Class
	Delay  time.Duration
}

// Result is a successful call and how many attempts it took.
type Result[T any] struct {
	Value    T
	Attempts int
}

type SleepFunc func(ctx context.Context, d time.Duration) error

// Caller runs operations under a Policy.
type Caller struct {
	policy   Policy
	sleep    SleepFunc
	observer func(Attempt)
	log      zerolog.Logger
}

type Option func(*Caller)

// WithSleep replaces the wait between attempts, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Caller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(Attempt)) Option {
	return func(c *Caller) { c.observer = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Caller) { c.log = l.With().Str("component", "retry").Logger() }
}

func New(policy Policy, opts ...Option) *Caller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Caller{
		policy: policy,
		sleep:  sleepContext,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Caller) Policy() Policy { return c.policy }

// Do runs op until it succeeds, fails with a client error, or the policy's
// attempts are used up.
func Do[T any](ctx context.Context, c *Caller, name string, op func(ctx context.Context) (T, error)) (Result[T], error) {
	var zero T
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		value, err := runAttempt(ctx, c.policy.AttemptTimeout, op)
		if err == nil {
			c.observe(Attempt{Name: name, Number: attempt})
			return Result[T]{Value: value, Attempts: attempt}, nil
		}

		if ctx.Err() != nil {
			return Result[T]{Value: zero, Attempts: attempt}, &Error{Name: name, Attempts: attempt, Class: ClassTransient, Err: ctx.Err()}
		}

		class := Classify(err)
		last := attempt == c.policy.MaxAttempts || class == ClassClient
		var delay time.Duration
		if !last {
			delay = c.policy.DelayFor(class, attempt)
		}
		c.observe(Attempt{Name: name, Number: attempt, Err: err, Class: class, Delay: delay})

		if last {
			return Result[T]{Value: zero, Attempts: attempt}, &Error{Name: name, Attempts: attempt, Class: class, Err: err}
		}

		c.log.Warn().
			Err(err).
			Str("op", name).
			Int("attempt", attempt).
			Int("max_attempts", c.policy.MaxAttempts).
			Str("class", class.String()).
			Dur("wait", delay).
			Msg("attempt failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return Result[T]{Value: zero, Attempts: attempt}, &Error{Name: name, Attempts: attempt, Class: class, Err: err}
		}
	}
	// unreachable: MaxAttempts >= 1
	return Result[T]{}, &Error{Name: name, Err: errors.New("no attempts made")}
}

// WithRetry is the error-only form of Do.
func WithRetry(ctx context.Context, c *Caller, name string, fn func(ctx context.Context) error) (int, error) {
	res, err := Do(ctx, c, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return res.Attempts, err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return value, err
}

func (c *Caller) observe(a Attempt) {
	if c.observer != nil {
		c.observer(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
