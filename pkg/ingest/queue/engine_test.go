package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryEnqueueFullReportsDropped(t *testing.T) {
	q := NewQueue(2)
	defer q.CloseAndDrain()

	require.NoError(t, q.TryEnqueue(&Op{Handler: HandlerBatchLive, Payload: []byte("a")}))
	require.NoError(t, q.TryEnqueue(&Op{Handler: HandlerBatchLive, Payload: []byte("b")}))
	err := q.TryEnqueue(&Op{Handler: HandlerBatchLive, Payload: []byte("c")})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	q := NewQueue(2)
	q.CloseAndDrain()

	assert.ErrorIs(t, q.TryEnqueue(&Op{Handler: HandlerBatchLive}), ErrQueueClosed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), &Op{Handler: HandlerBatchLive}), ErrQueueClosed)
}

func TestEnqueueBlocksUntilCancelled(t *testing.T) {
	q := NewQueue(1)
	defer q.CloseAndDrain()
	require.NoError(t, q.TryEnqueue(&Op{Handler: HandlerBatchLive}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, &Op{Handler: HandlerBatchLive})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestPayloadCopiedOnEnqueue(t *testing.T) {
	q := NewQueue(4)
	defer q.Close()

	payload := []byte("original")
	require.NoError(t, q.TryEnqueue(&Op{Handler: HandlerBatchLive, Payload: payload}))
	// caller may reuse its buffer immediately
	copy(payload, "CLOBBER!")

	it := <-q.Out()
	assert.Equal(t, "original", string(it.Op.Payload))
	it.Done()
	// Done is idempotent
	it.Done()
}

func TestWorkerProcessesInOrder(t *testing.T) {
	q := NewQueue(16)
	stop := make(chan struct{})

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.RunWorker(stop, func(op *Op) error {
			mu.Lock()
			got = append(got, string(op.Payload))
			mu.Unlock()
			return nil
		})
	}()

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.TryEnqueue(&Op{Handler: HandlerBatchLive, Payload: []byte(s)}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	close(stop)
	<-done
	assert.Equal(t, []string{"a", "b", "c"}, got)
	q.CloseAndDrain()
}

func TestBatchWorkerDrainsUpToBatchSize(t *testing.T) {
	q := NewQueue(16)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.TryEnqueue(&Op{Handler: HandlerBatchLive, Payload: []byte{byte('0' + i)}}))
	}

	var mu sync.Mutex
	var sizes []int
	var seqs []uint64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.RunBatchWorker(stop, 2, func(ops []*Op) error {
			mu.Lock()
			sizes = append(sizes, len(ops))
			for _, op := range ops {
				seqs = append(seqs, op.EnqSeq)
			}
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		total := 0
		for _, n := range sizes {
			total += n
		}
		return total == 5
	}, time.Second, 5*time.Millisecond)

	close(stop)
	<-done

	for _, n := range sizes {
		assert.LessOrEqual(t, n, 2)
	}
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
	q.CloseAndDrain()
}

func TestBatchWorkerExitsWhenQueueCloses(t *testing.T) {
	q := NewQueue(4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.RunBatchWorker(nil, 4, func([]*Op) error { return nil })
	}()

	require.NoError(t, q.TryEnqueue(&Op{Handler: HandlerSweep}))
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batch worker did not exit after close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := NewQueue(2)
	q.Close()
	q.Close()
	q.CloseAndDrain()
}
