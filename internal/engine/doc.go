// Package engine serializes database operations through one worker goroutine.
//
// ARCHITECTURE:
//
// Single-Consumer Operation Queue:
// Any goroutine may submit an Op. Ops land on an unbounded FIFO queue and a
// single worker goroutine executes them one at a time against the Executor
// (the store's pinned connection). This guarantees:
// - At most one statement in flight on the connection
// - Execution in exact submission order, sync and async mixed
// - No locking around the connection itself
//
// Op Processing Flow:
// 1. Caller builds an Operation (a statement already assembled by querysql)
// 2. Worker.Submit() stamps the Op with an ID and sequence number and enqueues it
// 3. The run loop dequeues the head and dispatches on the Operation variant
// 4. The outcome is recorded, the callback (if any) runs on the worker goroutine
// 5. The completion signal (sync Ops only) is closed and the caller unblocks
//
// A failed or panicking Op is logged and recorded; the loop moves on.
//
// Shutdown appends a stop sentinel. Everything enqueued before it still runs.
// Once the loop reaches the sentinel it exits and Shutdown returns.
package engine
