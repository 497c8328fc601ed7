package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOptionsValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, DefaultOptions().Validate())
	})

	t.Run("rejects zero attempts", func(t *testing.T) {
		o := DefaultOptions()
		o.MaxAttempts = 0
		assert.Error(t, o.Validate())
	})

	t.Run("rejects negative delay", func(t *testing.T) {
		o := DefaultOptions()
		o.Delay = -time.Second
		assert.Error(t, o.Validate())
	})

	t.Run("rejects unknown backoff", func(t *testing.T) {
		o := DefaultOptions()
		o.Backoff = "quadratic"
		assert.Error(t, o.Validate())
	})
}

func TestWaitFor(t *testing.T) {
	base := 100 * time.Millisecond

	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{"none first", BackoffNone, 1, 0},
		{"none third", BackoffNone, 3, 0},
		{"linear first", BackoffLinear, 1, base},
		{"linear third", BackoffLinear, 3, 300 * time.Millisecond},
		{"exponential first", BackoffExponential, 1, base},
		{"exponential second", BackoffExponential, 2, 200 * time.Millisecond},
		{"exponential fourth", BackoffExponential, 4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Options{MaxAttempts: 5, Delay: base, Backoff: tt.backoff}
			assert.Equal(t, tt.want, waitFor(o, tt.attempt))
		})
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	opts := Options{MaxAttempts: 3, Delay: 100 * time.Millisecond, Backoff: BackoffExponential}

	calls := 0
	start := time.Now()
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, opts)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Two failures wait 100ms then 200ms before the third attempt.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestDoExhaustsAttempts(t *testing.T) {
	opts := Options{MaxAttempts: 3, Delay: time.Millisecond, Backoff: BackoffNone}

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("persistent")
	}, opts)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, ErrExhausted))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.EqualError(t, exhausted.Err, "persistent")
}

func TestDoNoneBackoffDoesNotWait(t *testing.T) {
	opts := Options{MaxAttempts: 4, Delay: time.Hour, Backoff: BackoffNone}

	calls := 0
	start := time.Now()
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("persistent")
	}, opts)

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoHonorsCancellation(t *testing.T) {
	opts := Options{MaxAttempts: 5, Delay: time.Hour, Backoff: BackoffLinear}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, func() error {
			calls++
			return errors.New("transient")
		}, opts)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoValueReturnsResult(t *testing.T) {
	opts := Options{MaxAttempts: 2, Delay: time.Millisecond, Backoff: BackoffNone}

	calls := 0
	got, err := DoValue(context.Background(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "image:latest", nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "image:latest", got)
	assert.Equal(t, 2, calls)
}

func TestExecuteWithRetryLabelsError(t *testing.T) {
	opts := Options{MaxAttempts: 2, Delay: time.Millisecond, Backoff: BackoffNone}

	_, err := ExecuteWithRetry(context.Background(), func() (int, error) {
		return 0, errors.New("registry unreachable")
	}, "image push", opts, zap.NewNop())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Contains(t, err.Error(), "image push failed after retries")
	assert.Contains(t, err.Error(), "registry unreachable")
}

func TestSuggestions(t *testing.T) {
	t.Run("build disk pressure", func(t *testing.T) {
		got := Suggestions("write /var/lib: no space left on device", OpBuild, "")
		require.NotEmpty(t, got)
		assert.Contains(t, got[0], "docker system prune")
	})

	t.Run("push auth failure", func(t *testing.T) {
		got := Suggestions("unauthorized: access to the requested resource is denied", OpPush, "")
		require.NotEmpty(t, got)
		assert.Contains(t, got[0], "docker login")
	})

	t.Run("scanner missing", func(t *testing.T) {
		got := Suggestions(`exec: "trivy": executable file not found in $PATH`, OpScan, "")
		require.NotEmpty(t, got)
		assert.Contains(t, got[0], "Install the scanner")
	})

	t.Run("language rules stack on kind rules", func(t *testing.T) {
		got := Suggestions("COPY failed: requirements.txt not found", OpBuild, "python")
		joined := ""
		for _, s := range got {
			joined += s + "\n"
		}
		assert.Contains(t, joined, ".dockerignore")
		assert.Contains(t, joined, "requirements.txt")
	})

	t.Run("falls back to generic", func(t *testing.T) {
		got := Suggestions("segmentation fault", OpDeploy, "haskell")
		assert.Equal(t, genericSuggestions, got)
	})
}

func TestExecuteWithRecovery(t *testing.T) {
	opts := Options{MaxAttempts: 2, Delay: time.Millisecond, Backoff: BackoffNone}

	t.Run("success passes through", func(t *testing.T) {
		got, err := ExecuteWithRecovery(context.Background(), func() (string, error) {
			return "sha256:abc", nil
		}, "image build", OpBuild, "go", opts, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "sha256:abc", got)
	})

	t.Run("exhaustion gains suggestions", func(t *testing.T) {
		_, err := ExecuteWithRecovery(context.Background(), func() (string, error) {
			return "", errors.New("denied: push access forbidden")
		}, "image push", OpPush, "", opts, zap.NewNop())

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrExhausted))

		var recoverable *RecoverableError
		require.True(t, errors.As(err, &recoverable))
		assert.Equal(t, OpPush, recoverable.Kind)
		assert.NotEmpty(t, recoverable.Suggestions)
		assert.Contains(t, err.Error(), "Suggestions:")
	})

	t.Run("cancellation is not decorated", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ExecuteWithRecovery(ctx, func() (string, error) {
			return "", errors.New("transient")
		}, "image build", OpBuild, "", Options{MaxAttempts: 3, Delay: time.Hour, Backoff: BackoffNone}, zap.NewNop())

		require.Error(t, err)
		var recoverable *RecoverableError
		assert.False(t, errors.As(err, &recoverable))
	})
}
