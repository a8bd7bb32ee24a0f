package workerpool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/workerpool"
)

func TestSubmitReturnsValue(t *testing.T) {
	p := workerpool.New(2)
	v, err := workerpool.Submit(context.Background(), p, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestSubmitPropagatesError(t *testing.T) {
	p := workerpool.New(1)
	wantErr := errors.New("boom")
	_, err := workerpool.Submit(context.Background(), p, func() (int, error) {
		return 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := workerpool.New(1)
	var inFlight int32
	var maxObserved int32

	ctx := context.Background()
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = workerpool.Submit(ctx, p, func() (int, error) {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, n)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return 0, nil
			})
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	require.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(1))
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	p := workerpool.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := workerpool.Submit(ctx, p, func() (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
