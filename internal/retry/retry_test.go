package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("upstream returned %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		BaseDelay:      100 * time.Millisecond,
		RateLimitDelay: 5 * time.Second,
		MaxDelay:       time.Second,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	rec := &sleepRecorder{}
	caller := New(testPolicy(3), WithSleep(rec.sleep))

	calls := 0
	res, err := Do(context.Background(), caller, "fetch", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", statusErr{code: 503}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestDoClientErrorStopsAfterOneAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	caller := New(testPolicy(5), WithSleep(rec.sleep))

	calls := 0
	res, err := Do(context.Background(), caller, "llm", func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr{code: 400}
	})

	require.Error(t, err)
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 1, rerr.Attempts)
	assert.Equal(t, ClassClient, rerr.Class)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, rec.delays)
}

func TestDoRateLimitUsesFixedDelay(t *testing.T) {
	rec := &sleepRecorder{}
	caller := New(testPolicy(4), WithSleep(rec.sleep))

	_, err := Do(context.Background(), caller, "llm", func(ctx context.Context) (int, error) {
		return 0, statusErr{code: 429}
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, rec.delays)
}

func TestDoExhaustsAttempts(t *testing.T) {
	for _, max := range []int{1, 2, 3, 7} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			rec := &sleepRecorder{}
			caller := New(testPolicy(max), WithSleep(rec.sleep))

			calls := 0
			_, err := Do(context.Background(), caller, "nav", func(ctx context.Context) (int, error) {
				calls++
				return 0, errors.New("connection reset by peer")
			})

			var rerr *Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, max, rerr.Attempts)
			assert.LessOrEqual(t, calls, max)
			assert.Len(t, rec.delays, max-1)
		})
	}
}

func TestSingleAttemptNeverRetries(t *testing.T) {
	rec := &sleepRecorder{}
	caller := New(testPolicy(1), WithSleep(rec.sleep))

	calls := 0
	_, err := WithRetry(context.Background(), caller, "once", func(ctx context.Context) error {
		calls++
		return statusErr{code: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: 250 * time.Millisecond, MaxDelay: 3 * time.Second}
	cases := map[int]time.Duration{
		1:  250 * time.Millisecond,
		2:  500 * time.Millisecond,
		3:  time.Second,
		4:  2 * time.Second,
		5:  3 * time.Second,
		40: 3 * time.Second,
	}
	for n, want := range cases {
		assert.Equal(t, want, p.Backoff(n), "attempt %d", n)
	}

	p.RateLimitDelay = 42 * time.Second
	for n := 1; n < 10; n++ {
		assert.Equal(t, 42*time.Second, p.DelayFor(ClassRateLimited, n))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"status 429", statusErr{429}, ClassRateLimited},
		{"status 404", statusErr{404}, ClassClient},
		{"status 408", statusErr{408}, ClassTransient},
		{"status 502", statusErr{502}, ClassTransient},
		{"wrapped status", fmt.Errorf("call: %w", statusErr{401}), ClassClient},
		{"message status", errors.New("error, status code: 429, status: 429 Too Many Requests"), ClassRateLimited},
		{"message 500", errors.New("error, status code: 500, message: overloaded"), ClassTransient},
		{"rate limit text", errors.New("Rate limit reached for requests"), ClassRateLimited},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"permanent", Permanent(errors.New("bad json")), ClassClient},
		{"unknown", errors.New("boom"), ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
	rec := &sleepRecorder{}
	p := testPolicy(2)
	p.AttemptTimeout = 10 * time.Millisecond
	caller := New(p, WithSleep(rec.sleep))

	calls := 0
	res, err := Do(context.Background(), caller, "slow", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", errors.New("navigation aborted")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, rec.delays, 1)
}

func TestObserverSeesEveryAttempt(t *testing.T) {
	var seen []Attempt
	caller := New(testPolicy(3),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
		WithObserver(func(a Attempt) { seen = append(seen, a) }),
	)

	calls := 0
	_, err := Do(context.Background(), caller, "obs", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, statusErr{429}
		}
		return 1, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, ClassRateLimited, seen[0].Class)
	assert.NoError(t, seen[1].Err)
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	caller := New(testPolicy(5), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	calls := 0
	_, err := Do(ctx, caller, "cancel", func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr{503}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.BaseDelay)
	assert.Equal(t, 60*time.Second, p.RateLimitDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)

	p.MaxAttempts = 0
	assert.Error(t, p.Validate())
}
