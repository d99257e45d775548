package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, q *Queue, id string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = q.Get(id)
		return err == nil && task.State.Done()
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestQueueLifecycle(t *testing.T) {
	q := NewQueue(Config{Workers: 1}, nil)
	defer q.Close(context.Background())

	release := make(chan struct{})
	id, err := q.Submit(func(ctx context.Context) (any, error) {
		<-release
		return "testo estratto", nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := q.Get(id)
		return task.State == StateProcessing
	}, time.Second, 5*time.Millisecond)
	close(release)

	task := waitDone(t, q, id)
	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, "testo estratto", task.Result)
	assert.NoError(t, task.Err)
	assert.False(t, task.Finished.Before(task.Started))
}

func TestQueueErrorAndPanic(t *testing.T) {
	q := NewQueue(Config{Workers: 2}, nil)
	defer q.Close(context.Background())

	failing, err := q.Submit(func(context.Context) (any, error) { return nil, errors.New("ocr failed") })
	require.NoError(t, err)
	panicking, err := q.Submit(func(context.Context) (any, error) { panic("boom") })
	require.NoError(t, err)

	task := waitDone(t, q, failing)
	assert.Equal(t, StateError, task.State)
	assert.EqualError(t, task.Err, "ocr failed")

	task = waitDone(t, q, panicking)
	assert.Equal(t, StateError, task.State)
	assert.ErrorContains(t, task.Err, "boom")
}

func TestQueueNotFound(t *testing.T) {
	q := NewQueue(Config{}, nil)
	defer q.Close(context.Background())
	_, err := q.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(Config{Workers: 1, Backlog: 1}, nil)
	block := make(chan struct{})
	defer func() {
		close(block)
		q.Close(context.Background())
	}()

	started := make(chan struct{})
	_, err := q.Submit(func(context.Context) (any, error) {
		close(started)
		<-block
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	_, err = q.Submit(func(context.Context) (any, error) { <-block; return nil, nil })
	require.NoError(t, err)
	_, err = q.Submit(func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueSweep(t *testing.T) {
	q := NewQueue(Config{Workers: 1, TTL: time.Minute}, nil)
	defer q.Close(context.Background())

	id, err := q.Submit(func(context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)
	waitDone(t, q, id)

	assert.Zero(t, q.Sweep())
	q.mu.Lock()
	q.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	q.mu.Unlock()
	assert.Equal(t, 1, q.Sweep())
	_, err = q.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue(Config{Workers: 1}, nil)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := q.Submit(func(context.Context) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return "ok", nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, q.Close(context.Background()))
	for _, id := range ids {
		task, err := q.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, task.State)
	}
	assert.Equal(t, map[State]int{StateCompleted: 3}, q.Stats())

	_, err := q.Submit(func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueCloseTimeoutCancelsTasks(t *testing.T) {
	q := NewQueue(Config{Workers: 1}, nil)
	started := make(chan struct{})
	id, err := q.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	task, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateError, task.State)
	assert.ErrorIs(t, task.Err, context.Canceled)
}
