package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)
	for i := range 5 {
		require.NoError(t, q.Enqueue(fmt.Sprint(i)))
	}
	assert.Equal(t, 5, q.Len())
	for i := range 5 {
		id, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), id)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue(0)
	got := make(chan string, 1)
	go func() {
		id, err := q.Dequeue(context.Background())
		if err == nil {
			got <- id
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before enqueue")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, q.Enqueue("x"))
	select {
	case id := <-got:
		assert.Equal(t, "x", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestQueue_ContextAndClose(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.Enqueue("left"))
	done := make(chan error, 1)
	q2 := NewQueue(0)
	go func() {
		_, err := q2.Dequeue(context.Background())
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	q2.Close()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiter")
	}

	assert.Equal(t, []string{"left"}, q.Close())
	assert.Nil(t, q.Close())
	require.ErrorIs(t, q.Enqueue("late"), ErrQueueClosed)
}

func TestQueue_MaxDepth(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	require.ErrorIs(t, q.Enqueue("c"), ErrQueueFull)
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Enqueue("c"))
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := NewQueue(0)
	const producers, perProducer = 4, 100
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				_ = q.Enqueue(fmt.Sprintf("%d-%d", p, i))
			}
		}()
	}

	seen := make(chan string, producers*perProducer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var consumers sync.WaitGroup
	for range 3 {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				id, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				seen <- id
			}
		}()
	}
	wg.Wait()

	unique := map[string]bool{}
	for len(unique) < producers*perProducer {
		select {
		case id := <-seen:
			require.False(t, unique[id], "duplicate delivery of %s", id)
			unique[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d items delivered", len(unique))
		}
	}
	cancel()
	consumers.Wait()
}
