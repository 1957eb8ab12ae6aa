package queue

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDequeue_Concurrent_Panic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New[string](Unbounded)

	go q.Dequeue(ctx)
	time.Sleep(500 * time.Millisecond)

	require.Panics(t, func() {
		q.Dequeue(ctx)
	})
}

func TestDequeue_Timeout(t *testing.T) {
	q := New[string](Unbounded)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	q := New[string](Unbounded)
	q.Enqueue("hello")

	v, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestDequeue_WakesOnEnqueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	q := New[int](Unbounded)

	go func() {
		time.Sleep(100 * time.Millisecond)
		q.Enqueue(42)
	}()

	v, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestQueue_Close(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	q := New[string](Unbounded)
	q.Enqueue("hello")
	require.NoError(t, q.Close())

	v, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.Empty(t, v)

	_, ok := q.TryDequeue()
	require.False(t, ok)
}

func TestTryDequeue_FIFO(t *testing.T) {
	q := New[int](Unbounded)
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	require.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.TryDequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	_, ok := q.TryDequeue()
	require.False(t, ok, "empty queue must report no element")
}

func TestEnqueue_Race(t *testing.T) {
	q := New[int](Unbounded)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(i)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]struct{}, 100)
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[v] = struct{}{}
	}
	require.Len(t, seen, 100)
}

func TestEnqueue_Limit(t *testing.T) {
	q := New[int](1)

	for i := 0; i < 100; i++ {
		q.Enqueue(i)
	}
	v, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 99, v)
}
