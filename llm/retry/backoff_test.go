package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/types"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestNewBackoffRetryer_NilPolicyUsesDefaults(t *testing.T) {
	r := NewBackoffRetryer(nil, nil).(*backoffRetryer)
	assert.Equal(t, DefaultRetryPolicy(), r.policy)
	assert.NotNil(t, r.logger)

	assert.Equal(t, 500*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, time.Second, r.calculateDelay(2))
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return testErr
	})

	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, err.Error(), "重试 2 次后仍失败")
	assert.Equal(t, 3, callCount, "应该调用三次（初始+2次重试）")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "重试被取消")
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_ShouldRetryPredicate(t *testing.T) {
	policy := fastPolicy(3)
	policy.ShouldRetry = types.IsRetryable
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	t.Run("retryable upstream error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func() error {
			callCount++
			if callCount < 2 {
				return types.NewError(types.ErrUpstreamError, "503").WithRetryable(true)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func() error {
			callCount++
			return types.NewError(types.ErrInvalidRequest, "400")
		})
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
		assert.Equal(t, 1, callCount, "不应该重试")
	})
}

func TestBackoffRetryer_RetryableErrors(t *testing.T) {
	retryableErr := errors.New("retryable error")
	policy := fastPolicy(3)
	policy.RetryableErrors = []error{retryableErr}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return errors.New("other")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
	}, zap.NewNop()).(*backoffRetryer)

	// backoff * 2^attempt for the 0-based retry index
	expected := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, retryer.calculateDelay(i+1), "attempt %d", i+1)
	}
}

func TestBackoffRetryer_JitterStaysInRange(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, zap.NewNop()).(*backoffRetryer)

	for i := 0; i < 50; i++ {
		d := retryer.calculateDelay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	callbackCount := 0
	var lastAttempt int
	var lastErr error

	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCount++
		lastAttempt = attempt
		lastErr = err
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	testErr := errors.New("test error")
	callCount := 0
	_ = retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return testErr
		}
		return nil
	})

	assert.Equal(t, 2, callbackCount, "回调应该被调用两次")
	assert.Equal(t, 2, lastAttempt)
	assert.Equal(t, testErr, lastErr)
}

func TestWrapRetryable(t *testing.T) {
	err := errors.New("test error")
	assert.True(t, IsRetryableError(WrapRetryable(err)))
	assert.False(t, IsRetryableError(err))
	assert.Nil(t, WrapRetryable(nil))
}

func TestDoWithResultTyped(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	val, err := DoWithResultTyped[string](r, context.Background(), func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, callCount)

	zero, err := DoWithResultTyped[int](NewBackoffRetryer(fastPolicy(0), zap.NewNop()), context.Background(), func() (int, error) {
		return 7, errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, zero)
}
