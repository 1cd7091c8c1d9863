package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// TestDoIsBounded verifies that fn never runs more than MaxAttempts times,
// whatever the error kind.
func TestDoIsBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("retryable errors exhaust exactly MaxAttempts", prop.ForAll(
		func(maxAttempts int) bool {
			calls := 0
			err := Do(context.Background(), fastConfig(maxAttempts), func(context.Context) error {
				calls++
				return &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
			})
			var exhausted *ExhaustedError
			return calls == maxAttempts && errors.As(err, &exhausted) && exhausted.Attempts == maxAttempts
		},
		gen.IntRange(1, 6),
	))

	properties.Property("non-retryable errors stop after one call", prop.ForAll(
		func(maxAttempts int) bool {
			calls := 0
			sentinel := errors.New("bad request")
			err := Do(context.Background(), fastConfig(maxAttempts), func(context.Context) error {
				calls++
				return sentinel
			})
			return calls == 1 && errors.Is(err, sentinel)
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls < 2 {
			return &HTTPStatusError{StatusCode: http.StatusTooManyRequests}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(5)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	calls := 0
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		cancel()
		return &HTTPStatusError{StatusCode: http.StatusBadGateway}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"503", &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, true},
		{"504", &HTTPStatusError{StatusCode: http.StatusGatewayTimeout}, true},
		{"400", &HTTPStatusError{StatusCode: http.StatusBadRequest}, false},
		{"plain", errors.New("nope"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestBackoffIsCapped(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2}
	require.Equal(t, 100*time.Millisecond, backoff(cfg, 1))
	require.Equal(t, 200*time.Millisecond, backoff(cfg, 2))
	require.Equal(t, 300*time.Millisecond, backoff(cfg, 5))
}
