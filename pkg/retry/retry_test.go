package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errOutage   = errors.New("connection reset")
	errNotFound = errors.New("not found")
)

func transient(err error) bool { return errors.Is(err, errOutage) }

func fast(attempts int, opts ...Option) Policy {
	opts = append([]Option{WithBackoff(time.Millisecond, time.Millisecond), WithJitter(0)}, opts...)
	return StorageFailures(attempts, transient, opts...)
}

func TestStorageFailures_Defaults(t *testing.T) {
	p := StorageFailures(0, transient)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, 200*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 5*time.Second, p.MaxDelay)

	p = StorageFailures(4, transient, WithBackoff(time.Second, 3*time.Second))
	assert.Equal(t, 4, p.Attempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 3*time.Second, p.MaxDelay)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errOutage
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_FinalErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errNotFound
	})

	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, 1, calls)
}

func TestDo_NoClassifierNeverRetries(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errOutage
	})

	assert.ErrorIs(t, err, errOutage)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retried []int
	err := fast(3, WithOnRetry(func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	})).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errOutage
	})

	assert.ErrorIs(t, err, errOutage)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fast(3).Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoWithData_KeepsLastValue(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fast(2), func(ctx context.Context) (int, error) {
		calls++
		return calls * 10, errOutage
	})

	assert.ErrorIs(t, err, errOutage)
	assert.Equal(t, 20, v)
}

func TestDelay_DoublesUpToMax(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(2))
	assert.Equal(t, 3*time.Second, p.delay(5))
	assert.Equal(t, 3*time.Second, p.delay(80))
}
