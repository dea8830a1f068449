package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/roach88/lane/internal/querysql"
	"github.com/roach88/lane/internal/store"
)

// Kind names an Operation variant, for logs and metrics.
type Kind int

const (
	KindSelect Kind = iota + 1
	KindInsert
	KindUpdate
	KindDelete
	KindExec
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindExec:
		return "exec"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation is a statement to run on the worker.
//
// This is a sealed interface: Select, Insert, Update, Delete and Exec are the
// only implementations, and the worker switches over them exhaustively.
type Operation interface {
	Kind() Kind
	Statement() querysql.Statement
	operationNode()
}

// Select reads rows.
type Select struct{ Stmt querysql.Statement }

// Insert adds a row and reports its rowid.
type Insert struct{ Stmt querysql.Statement }

// Update changes rows and reports how many.
type Update struct{ Stmt querysql.Statement }

// Delete removes rows and reports how many.
type Delete struct{ Stmt querysql.Statement }

// Exec runs any statement that returns no rows (DDL, pragmas, raw DML).
type Exec struct{ Stmt querysql.Statement }

func (Select) Kind() Kind { return KindSelect }
func (Insert) Kind() Kind { return KindInsert }
func (Update) Kind() Kind { return KindUpdate }
func (Delete) Kind() Kind { return KindDelete }
func (Exec) Kind() Kind   { return KindExec }

func (o Select) Statement() querysql.Statement { return o.Stmt }
func (o Insert) Statement() querysql.Statement { return o.Stmt }
func (o Update) Statement() querysql.Statement { return o.Stmt }
func (o Delete) Statement() querysql.Statement { return o.Stmt }
func (o Exec) Statement() querysql.Statement   { return o.Stmt }

func (Select) operationNode() {}
func (Insert) operationNode() {}
func (Update) operationNode() {}
func (Delete) operationNode() {}
func (Exec) operationNode()   {}

// Result is the outcome of a successful Op. Which fields are set depends on
// the variant: Select fills Rows, the others fill LastInsertID and
// RowsAffected.
type Result struct {
	Rows         []store.Row
	LastInsertID int64
	RowsAffected int64
}

// Callback receives an Op's outcome on the worker goroutine.
// Exactly one of the arguments is meaningful: err is nil on success.
type Callback func(Result, error)

// Op describes one queued operation and, once executed, its outcome.
//
// An Op is built by the submitter, written only by the worker, and read by
// the submitter again after completion. Constructing an Op never touches the
// database.
type Op struct {
	// ID identifies the Op in logs. Assigned by Submit when empty.
	ID string

	// Seq is the Op's position in submission order, assigned by Submit.
	Seq int64

	Operation Operation
	Callback  Callback

	done      chan struct{} // nil for async Ops
	result    Result
	err       error
	submitted atomic.Bool
	completed atomic.Bool
}

// NewOp returns an asynchronous Op. Nothing waits for it; the outcome is
// delivered to cb, which may be nil.
func NewOp(operation Operation, cb Callback) *Op {
	return &Op{Operation: operation, Callback: cb}
}

// NewSyncOp returns an Op carrying a completion signal for Wait.
func NewSyncOp(operation Operation, cb Callback) *Op {
	return &Op{Operation: operation, Callback: cb, done: make(chan struct{})}
}

// Sync reports whether the Op carries a completion signal.
func (o *Op) Sync() bool {
	return o.done != nil
}

// Done returns the completion signal, closed once the outcome is recorded
// and the callback has returned. It is nil for asynchronous Ops.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

// Completed reports whether the worker has recorded the outcome.
func (o *Op) Completed() bool {
	return o.completed.Load()
}

// Wait blocks until the Op completes or ctx ends, then returns its outcome.
//
// A cancelled ctx only stops the wait; the Op still runs when the worker
// reaches it.
func (o *Op) Wait(ctx context.Context) (Result, error) {
	if o.done == nil {
		return Result{}, ErrNotSync
	}
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Outcome returns the recorded result and error. Only meaningful after
// completion: inside the callback, after Done is closed, or after the worker
// has shut down.
func (o *Op) Outcome() (Result, error) {
	return o.result, o.err
}

// record stores the outcome. Called once, by the worker.
func (o *Op) record(res Result, err error) {
	if !o.completed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("engine: op %s completed twice", o.ID))
	}
	if err != nil {
		o.err = err
		return
	}
	o.result = res
}

// signal closes the completion signal, if any.
func (o *Op) signal() {
	if o.done != nil {
		close(o.done)
	}
}
