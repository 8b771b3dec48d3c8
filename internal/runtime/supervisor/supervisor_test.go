package supervisor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtsup "gtbot/internal/runtime/supervisor"
)

func TestStopCancelsAndWaits(t *testing.T) {
	sup := rtsup.New(context.Background())

	started := make(chan struct{})
	sup.Go0("worker", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started
	assert.Equal(t, int64(1), sup.Active())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
	assert.Zero(t, sup.Active())
}

func TestStopHonorsDeadline(t *testing.T) {
	sup := rtsup.New(context.Background())

	block := make(chan struct{})
	defer close(block)
	sup.Go0("stuck", func(context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sup.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), sup.Active(), "stuck goroutine is still reported")
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	sup := rtsup.New(context.Background())

	var runs atomic.Int64
	pollErr := errors.New("poll broke")
	sup.GoRestart("poll", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return pollErr
		}
		<-ctx.Done()
		return nil
	},
		rtsup.WithRestartBackoff(time.Millisecond, time.Millisecond),
		rtsup.WithPublishFirstError(true),
	)

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		time.Second, 5*time.Millisecond, "loop restarts after the error")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.Stop(ctx)
	assert.ErrorIs(t, err, pollErr, "first error surfaces through Err")
}

func TestGoRestartKeepsErrorsQuietByDefault(t *testing.T) {
	sup := rtsup.New(context.Background())

	var runs atomic.Int64
	sup.GoRestart("poll", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return nil
	},
		rtsup.WithRestartBackoff(time.Millisecond, time.Millisecond),
	)

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sup.Stop(ctx))
}
