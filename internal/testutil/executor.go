package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/lane/internal/querysql"
	"github.com/roach88/lane/internal/store"
)

// Call records one statement seen by a RecordingExecutor.
type Call struct {
	SQL   string
	Args  []any
	Start time.Time
	End   time.Time
}

// RecordingExecutor is an in-memory stand-in for the store that records the
// order and timing of every statement it receives.
//
// It tracks how many statements are executing at once, so tests can assert
// that the worker never runs two together.
//
// Thread-safety: all methods are safe for concurrent use, which is what lets
// it detect concurrent use.
type RecordingExecutor struct {
	// Delay is slept inside every call, widening the window in which an
	// overlapping call would be caught.
	Delay time.Duration

	// FailOn returns a non-nil error for statements that should fail.
	FailOn func(stmt querysql.Statement) error

	// PanicOn makes the executor panic for matching statements.
	PanicOn func(stmt querysql.Statement) bool

	// Rows is returned from every Query.
	Rows []store.Row

	mu          sync.Mutex
	calls       []Call
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	nextID      atomic.Int64
}

// Query implements engine.Executor.
func (r *RecordingExecutor) Query(ctx context.Context, stmt querysql.Statement) ([]store.Row, error) {
	if err := r.enter(stmt); err != nil {
		return nil, err
	}
	return r.Rows, nil
}

// Exec implements engine.Executor. LastInsertID counts up from 1 across
// successful calls.
func (r *RecordingExecutor) Exec(ctx context.Context, stmt querysql.Statement) (store.ExecResult, error) {
	if err := r.enter(stmt); err != nil {
		return store.ExecResult{}, err
	}
	return store.ExecResult{LastInsertID: r.nextID.Add(1), RowsAffected: 1}, nil
}

func (r *RecordingExecutor) enter(stmt querysql.Statement) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		cur := r.maxInFlight.Load()
		if n <= cur || r.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	call := Call{SQL: stmt.SQL, Args: stmt.Args, Start: time.Now()}
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	call.End = time.Now()

	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	if r.PanicOn != nil && r.PanicOn(stmt) {
		panic("recording executor: induced panic on " + stmt.SQL)
	}
	if r.FailOn != nil {
		return r.FailOn(stmt)
	}
	return nil
}

// Calls returns a copy of the recorded calls in execution order.
func (r *RecordingExecutor) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// SQL returns the recorded statement texts in execution order.
func (r *RecordingExecutor) SQL() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.SQL
	}
	return out
}

// MaxInFlight returns the highest number of simultaneous calls observed.
func (r *RecordingExecutor) MaxInFlight() int {
	return int(r.maxInFlight.Load())
}

// Overlapping reports whether any two recorded calls overlapped in time.
func (r *RecordingExecutor) Overlapping() bool {
	calls := r.Calls()
	for i := 1; i < len(calls); i++ {
		if calls[i].Start.Before(calls[i-1].End) {
			return true
		}
	}
	return false
}
