package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/poiesic/contentpulse/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = fmt.Errorf("flaky: %w", core.ErrTransientExternal)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "should succeed on third attempt")
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		attempts++
		return errFlaky
	})
	require.Error(t, err)
	assert.Equal(t, errFlaky, err, "should return the original error")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	permanent := fmt.Errorf("bad key: %w", core.ErrPermanentExternal)
	attempts := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, core.ErrPermanentExternal)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = Do(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		return errors.New("unclassified")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "unclassified errors are not retried")
}

func TestDo_DeadlineExceededIsRetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastPolicy(10), func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, attempts, 2, "should stop when context is canceled")
}

func TestDo_InvalidPolicy(t *testing.T) {
	err := Do(context.Background(), Policy{}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 6, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, p.delay(1))
	assert.Equal(t, 20*time.Millisecond, p.delay(2))
	assert.Equal(t, 40*time.Millisecond, p.delay(3))
	assert.Equal(t, 50*time.Millisecond, p.delay(4), "should cap at MaxDelay")
	assert.Equal(t, 50*time.Millisecond, p.delay(10))

	uncapped := Policy{BaseDelay: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, uncapped.delay(4))
}

func TestDo_LogsToPolicyLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("component", "embedding", "source", "news")

	attempts := 0
	err := Do(context.Background(), fastPolicy(3).WithLogger(logger), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "operation failed, will retry")
	assert.Contains(t, out, "operation succeeded after retry")
	assert.Contains(t, out, "component=embedding source=news")
}
