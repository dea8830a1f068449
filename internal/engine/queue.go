package engine

import (
	"sync"
)

// opQueue is a thread-safe unbounded FIFO of Ops with a stop sentinel.
//
// Producers call Enqueue from any goroutine and never block. The worker is
// the only consumer. Close appends a nil entry as the stop sentinel; entries
// ahead of it are still delivered, and Dequeue reports the sentinel as
// (nil, false).
//
// The queue uses a channel for signaling so the consumer can sleep while it
// is empty.
type opQueue struct {
	mu      sync.Mutex
	entries []*Op
	pending int           // entries excluding the sentinel
	seq     int64         // last Seq handed out
	closed  bool          // sentinel enqueued
	stopped bool          // sentinel dequeued
	signal  chan struct{} // Signals entry availability (buffered, size 1)
}

// newOpQueue creates an empty queue. The first Op gets Seq 1.
func newOpQueue() *opQueue {
	return &opQueue{
		entries: make([]*Op, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue stamps op with the next sequence number and adds it to the back of
// the queue. Returns false if the queue is closed.
func (q *opQueue) Enqueue(op *Op) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.seq++
	op.Seq = q.seq
	q.entries = append(q.entries, op)
	q.pending++
	q.notify()

	return true
}

// Dequeue removes and returns the front Op, blocking while the queue is
// empty. Returns (nil, false) when it reaches the stop sentinel, and on
// every call after that.
func (q *opQueue) Dequeue() (*Op, bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.entries) > 0 {
			op := q.entries[0]

			// Nil out the slot so the backing array does not pin finished Ops.
			q.entries[0] = nil
			if len(q.entries) == 1 {
				q.entries = q.entries[:0]
			} else {
				q.entries = q.entries[1:]
			}

			if op == nil {
				q.stopped = true
				q.mu.Unlock()
				return nil, false
			}
			q.pending--
			q.mu.Unlock()
			return op, true
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// Len returns the number of Ops waiting, not counting the sentinel.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close enqueues the stop sentinel and rejects further Enqueue calls.
// Returns false if the queue was already closed.
func (q *opQueue) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.closed = true
	q.entries = append(q.entries, nil)
	q.notify()
	return true
}

// Closed reports whether the sentinel has been enqueued.
func (q *opQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// notify wakes the consumer without blocking. The buffer of 1 coalesces
// multiple signals. Caller holds q.mu.
func (q *opQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
