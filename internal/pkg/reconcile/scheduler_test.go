package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingStore holds the sweep's seller listing until released.
type blockingStore struct {
	repository.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.View(ctx, fn)
}

func TestTriggerNowCoalesces(t *testing.T) {
	store := &blockingStore{
		Store:   repository.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newEngine(t, store)
	s := NewScheduler(e.sweeper, time.Hour, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background())
		done <- err
	}()
	<-store.entered

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrSweepInFlight)

	close(store.release)
	require.NoError(t, <-done)
	require.NotNil(t, s.LastReport())

	_, err = s.TriggerNow(context.Background())
	assert.NoError(t, err, "a new sweep may start once the previous one finished")
}

func TestSchedulerStartStop(t *testing.T) {
	e := newEngine(t, nil)
	s := NewScheduler(e.sweeper, time.Second, nil)
	assert.False(t, s.IsRunning())

	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return s.LastReport() != nil }, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	// restartable
	s.Start()
	assert.True(t, s.IsRunning())
	s.Stop()
}

func TestStopWhileTickInFlight(t *testing.T) {
	store := &blockingStore{
		Store:   repository.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newEngine(t, store)
	s := NewScheduler(e.sweeper, time.Second, nil)
	s.Start()

	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled sweep never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Stop must not hold the scheduler lock while it waits for the sweep
	assert.Eventually(t, func() bool { return !s.IsRunning() }, 2*time.Second, 10*time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("Stop returned before the running sweep finished")
	default:
	}

	close(store.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
	assert.False(t, s.IsRunning())
}

func TestNewSchedulerDefaultInterval(t *testing.T) {
	s := NewScheduler(nil, 0, nil)
	assert.Equal(t, DefaultInterval, s.Interval())
}

type denyLocker struct{}

func (denyLocker) Acquire(context.Context) (func(), bool, error) { return nil, false, nil }

func TestTriggerNowRespectsLocker(t *testing.T) {
	e := newEngine(t, nil)
	s := NewScheduler(e.sweeper, time.Hour, denyLocker{})

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrSweepInFlight)
	assert.Nil(t, s.LastReport())
}

func TestRedisLocker(t *testing.T) {
	client := testutil.RedisClient(t, 12)
	ctx := context.Background()

	first := NewRedisLocker(client, "test:reconcile:lock", time.Minute)
	second := NewRedisLocker(client, "test:reconcile:lock", time.Minute)

	release, ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	release2, ok, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// a stale release must not delete someone else's lease
	release()
	exists, err := client.Exists(ctx, "test:reconcile:lock").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
	release2()
}
