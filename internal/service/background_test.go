package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsTasksDetachedFromCaller(t *testing.T) {
	d := NewDispatcher(2, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Bool
	d.Go(ctx, "test", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() == nil {
			ran.Store(true)
		}
		return nil
	})
	cancel()

	require.NoError(t, d.Wait(context.Background()))
	require.True(t, ran.Load())
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	d := NewDispatcher(2, time.Second)
	var current, peak atomic.Int32
	for i := 0; i < 10; i++ {
		d.Go(context.Background(), "test", func(ctx context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		})
	}
	require.NoError(t, d.Wait(context.Background()))
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcherSurvivesFailuresAndPanics(t *testing.T) {
	d := NewDispatcher(4, time.Second)
	var after atomic.Bool
	d.Go(context.Background(), "fails", func(ctx context.Context) error { return errors.New("boom") })
	d.Go(context.Background(), "panics", func(ctx context.Context) error { panic("kaboom") })
	d.Go(context.Background(), "ok", func(ctx context.Context) error {
		after.Store(true)
		return nil
	})
	require.NoError(t, d.Wait(context.Background()))
	require.True(t, after.Load())
}

func TestDispatcherAppliesTaskTimeout(t *testing.T) {
	d := NewDispatcher(1, 20*time.Millisecond)
	var deadline atomic.Bool
	d.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})
	require.NoError(t, d.Wait(context.Background()))
	require.True(t, deadline.Load())
}

func TestDispatcherWaitHonorsContext(t *testing.T) {
	d := NewDispatcher(1, time.Minute)
	release := make(chan struct{})
	d.Go(context.Background(), "blocked", func(ctx context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, d.Wait(context.Background()))
}
