package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_StartStop(t *testing.T) {
	pool := New(Config{Workers: 2, QueueSize: 10}, nil)
	require.NoError(t, pool.Start())
	assert.True(t, pool.IsRunning())

	err := pool.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, pool.Stop())
	assert.False(t, pool.IsRunning())
	assert.ErrorIs(t, pool.Stop(), ErrNotRunning)
}

func TestPool_Submit(t *testing.T) {
	pool := New(Config{Workers: 2, QueueSize: 10}, nil)
	require.NoError(t, pool.Start())
	defer func() { _ = pool.Stop() }()

	done := make(chan struct{})
	err := pool.Submit(context.Background(), Task{ID: "t", Execute: func(context.Context) error {
		close(done)
		return nil
	}})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not execute")
	}
}

func TestPool_SubmitNotRunning(t *testing.T) {
	pool := New(DefaultConfig(), nil)
	err := pool.Submit(context.Background(), Task{ID: "t", Execute: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPool_DropOnFull(t *testing.T) {
	pool := New(Config{Workers: 1, QueueSize: 1, DropOnFull: true}, nil)
	require.NoError(t, pool.Start())

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), Task{ID: "busy", Execute: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, pool.Submit(context.Background(), Task{ID: "queued", Execute: func(context.Context) error { return nil }}))

	err := pool.Submit(context.Background(), Task{ID: "dropped", Execute: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	require.NoError(t, pool.Stop())
}

func TestPool_RunAllOrderedAndRecovers(t *testing.T) {
	pool := New(Config{Workers: 3, QueueSize: 2}, nil)
	require.NoError(t, pool.Start())
	defer func() { _ = pool.Stop() }()

	var ran int32
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{ID: fmt.Sprintf("task-%d", i), Execute: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			if i == 4 {
				return errors.New("boom")
			}
			if i == 5 {
				panic("kaboom")
			}
			return nil
		}}
	}

	results := pool.RunAll(context.Background(), tasks)
	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("task-%d", i), r.TaskID)
	}
	assert.EqualError(t, results[4].Error, "boom")
	assert.EqualError(t, results[5].Error, "task panicked: kaboom")
	assert.Equal(t, int32(6), atomic.LoadInt32(&ran))
}

func TestPool_StopDrainsQueue(t *testing.T) {
	pool := New(Config{Workers: 1, QueueSize: 5}, nil)
	require.NoError(t, pool.Start())

	var ran int32
	for i := range 5 {
		require.NoError(t, pool.Submit(context.Background(), Task{ID: fmt.Sprint(i), Execute: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}}))
	}
	require.NoError(t, pool.Stop())
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}
