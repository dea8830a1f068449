package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/lane/internal/querysql"
	"github.com/roach88/lane/internal/store"
)

// Executor runs statements against the connection. *store.Store implements
// it; tests substitute instrumented fakes.
//
// The worker is the only caller, so implementations need no locking.
type Executor interface {
	Query(ctx context.Context, stmt querysql.Statement) ([]store.Row, error)
	Exec(ctx context.Context, stmt querysql.Statement) (store.ExecResult, error)
}

// State is the worker lifecycle stage.
type State int32

const (
	// StateIdle: constructed, run loop not started. Submissions are queued.
	StateIdle State = iota
	// StateRunning: run loop active, accepting submissions.
	StateRunning
	// StateDraining: stop sentinel enqueued, finishing earlier Ops.
	StateDraining
	// StateStopped: run loop exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker is the single consumer of the operation queue.
//
// Thread-safety model:
//   - Submit(), Shutdown(), State(), Len(): safe from any goroutine
//   - the run loop is the only goroutine that touches the Executor
//
// INVARIANTS:
//   - Ops execute in Seq order, one at a time
//   - every Op enqueued before Shutdown is executed before Shutdown returns
//   - no transition back to StateRunning once draining
type Worker struct {
	exec    Executor
	queue   *opQueue
	ids     IDGenerator
	logger  *slog.Logger
	metrics *Metrics

	state     atomic.Int32
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the logger for diagnostics. Default: slog.Default().
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithIDGenerator sets how Op IDs are assigned. Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) WorkerOption {
	return func(w *Worker) {
		w.ids = ids
	}
}

// WithMetrics records worker activity. Default: none.
func WithMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// NewWorker creates a Worker over exec. Call Start to begin processing.
func NewWorker(exec Executor, opts ...WorkerOption) *Worker {
	w := &Worker{
		exec:   exec,
		queue:  newOpQueue(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	return w
}

// Start launches the run loop. Later calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
		go w.run()
	})
}

// Submit appends op to the queue and returns immediately.
//
// Returns ErrClosed once Shutdown has begun, ErrAlreadySubmitted if op was
// submitted before, and ErrNoOperation if op carries no Operation.
func (w *Worker) Submit(op *Op) error {
	if op == nil || op.Operation == nil {
		return ErrNoOperation
	}
	if !op.submitted.CompareAndSwap(false, true) {
		return ErrAlreadySubmitted
	}
	if op.ID == "" {
		op.ID = w.ids.Generate()
	}

	if !w.queue.Enqueue(op) {
		op.submitted.Store(false)
		return ErrClosed
	}
	w.metrics.setDepth(w.queue.Len())

	w.logger.Debug("op submitted",
		"op", op.ID,
		"seq", op.Seq,
		"kind", op.Operation.Kind(),
		"sync", op.Sync(),
	)
	return nil
}

// Shutdown enqueues the stop sentinel and blocks until every earlier Op has
// run and the loop has exited. Safe to call more than once and from several
// goroutines; every call returns only after the loop is gone.
//
// If Start was never called, Shutdown starts the loop so queued Ops drain.
func (w *Worker) Shutdown() {
	w.stopOnce.Do(func() {
		w.queue.Close()
		w.state.CompareAndSwap(int32(StateIdle), int32(StateDraining))
		w.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		w.logger.Debug("worker draining", "pending", w.queue.Len())
		w.startOnce.Do(func() { go w.run() })
	})
	<-w.done
}

// Done is closed when the run loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Len returns the number of Ops waiting to run.
func (w *Worker) Len() int {
	return w.queue.Len()
}

// run is the processing loop. It is the only goroutine that uses w.exec.
//
// ERROR HANDLING: a failing Op is logged, recorded on the Op, and the loop
// continues with the next one.
func (w *Worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))

	w.logger.Info("worker starting")

	for {
		op, ok := w.queue.Dequeue()
		if !ok {
			w.logger.Info("worker stopping: queue drained")
			return
		}
		w.process(op)
	}
}

// process executes one Op and delivers its outcome: record, callback, then
// the completion signal, so a synchronous caller observes the callback's
// effects once it unblocks.
func (w *Worker) process(op *Op) {
	kind := op.Operation.Kind()
	start := time.Now()

	res, err := w.execute(op)
	if err != nil {
		err = &ExecError{OpID: op.ID, Seq: op.Seq, Kind: kind, Err: err}
		w.logger.Error("op failed",
			"op", op.ID,
			"seq", op.Seq,
			"kind", kind,
			"sql", op.Operation.Statement().SQL,
			"error", err,
		)
	} else {
		w.logger.Debug("op executed",
			"op", op.ID,
			"seq", op.Seq,
			"kind", kind,
			"rows", len(res.Rows),
			"rows_affected", res.RowsAffected,
		)
	}

	op.record(res, err)
	w.invokeCallback(op)
	op.signal()

	w.metrics.observe(kind, err, time.Since(start))
	w.metrics.setDepth(w.queue.Len())
}

// execute dispatches on the Operation variant.
// A panic in the Executor is recovered and returned as a PanicError.
func (w *Worker) execute(op *Op) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, &PanicError{Value: r}
		}
	}()

	ctx := context.Background()

	switch o := op.Operation.(type) {
	case Select:
		rows, err := w.exec.Query(ctx, o.Stmt)
		if err != nil {
			return Result{}, err
		}
		return Result{Rows: rows}, nil
	case Insert, Update, Delete, Exec:
		r, err := w.exec.Exec(ctx, o.Statement())
		if err != nil {
			return Result{}, err
		}
		return Result{LastInsertID: r.LastInsertID, RowsAffected: r.RowsAffected}, nil
	default:
		return Result{}, fmt.Errorf("unsupported operation type: %T", op.Operation)
	}
}

// invokeCallback runs the Op's callback, if any. A panicking callback is
// logged and does not stop the loop.
func (w *Worker) invokeCallback(op *Op) {
	if op.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("callback panicked",
				"op", op.ID,
				"seq", op.Seq,
				"panic", r,
			)
		}
	}()

	op.Callback(op.result, op.err)
}
