package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan capture.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := capture.QueueItem{JobID: "job-1", Image: []byte("img")}
	require.NoError(t, q.Enqueue(context.Background(), item))

	select {
	case got := <-result:
		require.Equal(t, item, got)
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dequeue")
	}
}

func TestQueueEnqueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Enqueue(ctx, capture.QueueItem{JobID: "x"}), context.DeadlineExceeded)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), capture.QueueItem{JobID: "a"}))
	require.Equal(t, 1, q.Len())
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), capture.QueueItem{JobID: "b"}), ErrQueueClosed)

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", item.JobID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}
