package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// HandlerID identifies the concrete handler the reconciler should invoke
// for this Op. It is set by the enqueueing code (the engine's public
// surface), which has the authoritative intent for the operation; the
// reconciler never probes payloads to determine dispatch.
type HandlerID string

const (
	HandlerBatchLive      HandlerID = "batch.live"
	HandlerBatchBack      HandlerID = "batch.back"
	HandlerBatchForward   HandlerID = "batch.forward"
	HandlerSendCreate     HandlerID = "send.create"
	HandlerSendSent       HandlerID = "send.sent"
	HandlerSendFailed     HandlerID = "send.failed"
	HandlerSendCancel     HandlerID = "send.cancel"
	HandlerSendRetry      HandlerID = "send.retry"
	HandlerDecryptResolve HandlerID = "decrypt.resolve"
	HandlerReceiptSet     HandlerID = "receipt.set"
	HandlerSweep          HandlerID = "janitor.sweep"
)

// Op is a lightweight in-memory representation of one mutation destined
// for the reconciler. Payload may be backed by a pooled ByteBuffer;
// consumers must call Item.Done() when finished.
type Op struct {
	// Handler is the explicit dispatch key set by enqueueing code.
	Handler HandlerID
	// ID is the event or transaction ID the op concerns, when it has one.
	ID string
	// Ref is a secondary identifier: the fresh transaction ID on a retry,
	// the decrypted event type on a decrypt resolution.
	Ref string
	// Payload holds the raw bytes for the operation (may be nil).
	Payload []byte
	// TS is an optional timestamp (nanoseconds).
	TS int64
	// EnqSeq is a monotonic enqueue sequence assigned when the op is
	// accepted into the queue; it makes ordering inside drained batches
	// deterministic.
	EnqSeq uint64
}

// Item wraps an Op and owns a pooled ByteBuffer if one was used. Consumers
// MUST call Done() exactly once after processing the item to return pooled
// resources.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
	q    *Queue
}

// Done releases pooled resources (buffer + op) back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			atomic.AddInt64(&it.q.inFlight, -1)
			it.q = nil
		}
		if it.buf != nil {
			// avoid retaining huge buffers in the pool
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Op != nil {
			it.Op.Payload = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
	})
}

var opPool = sync.Pool{New: func() any { return &Op{} }}

// maxPooledBuffer controls the largest buffer returned to the pool; larger
// ones are dropped so the GC can reclaim the underlying array.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("intake queue full")

// ErrQueueClosed is returned when enqueue is attempted after close.
var ErrQueueClosed = errors.New("intake queue closed")
