package lane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/lane/internal/engine"
	"github.com/roach88/lane/internal/queryir"
	"github.com/roach88/lane/internal/store"
)

type (
	// Conditions is an ordered condition map. See Where.
	Conditions = queryir.Conditions
	// Cond is one condition entry.
	Cond = queryir.Cond
	// Order is one ORDER BY term.
	Order = queryir.Order
	// Values is an ordered list of column assignments. See Set.
	Values = queryir.Values
	// Column is one column assignment.
	Column = queryir.Column
	// Row is one result row, columns in statement order.
	Row = store.Row
	// Result is the outcome of an operation.
	Result = engine.Result
	// Callback receives an operation's outcome on the worker goroutine.
	Callback = engine.Callback
	// Op is a submitted operation.
	Op = engine.Op
)

// OrderBy is the reserved condition key holding sort orders.
const OrderBy = queryir.OrderByKey

// ErrClosed is returned for submissions after Close.
var ErrClosed = engine.ErrClosed

// Where builds Conditions from alternating keys and values.
func Where(kv ...any) Conditions { return queryir.Where(kv...) }

// Set builds Values from alternating column names and values.
func Set(kv ...any) Values { return queryir.Set(kv...) }

// Asc sorts by column ascending.
func Asc(column string) Order { return queryir.Asc(column) }

// Desc sorts by column descending.
func Desc(column string) Order { return queryir.Desc(column) }

// DB is a SQLite database whose statements all run on one worker goroutine.
//
// All methods are safe for concurrent use.
type DB struct {
	store  *store.Store
	worker *engine.Worker
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Stats is a snapshot of the worker for diagnostics.
type Stats struct {
	// Pending is the number of operations waiting behind the one in flight.
	Pending int
	// State is the worker lifecycle stage.
	State engine.State
}

// Open opens or creates the SQLite database at path, applies connection
// pragmas and starts the worker. Use ":memory:" for a private in-memory
// database.
func Open(path string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(path, o.store)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	workerOpts := []engine.WorkerOption{engine.WithLogger(o.logger)}
	if o.ids != nil {
		workerOpts = append(workerOpts, engine.WithIDGenerator(o.ids))
	}
	if o.registerer != nil {
		workerOpts = append(workerOpts, engine.WithMetrics(engine.NewMetrics(o.registerer)))
	}

	w := engine.NewWorker(st, workerOpts...)
	w.Start()

	o.logger.Debug("database opened", "path", path)

	return &DB{store: st, worker: w, logger: o.logger}, nil
}

// With opens the database at path, calls fn, and closes the database however
// fn returns.
func With(path string, fn func(*DB) error, opts ...Option) (err error) {
	db, err := Open(path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	return fn(db)
}

// Close waits for every submitted operation to run, then releases the
// connection. Later calls return the first call's result.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.worker.Shutdown()
		if err := db.store.Close(); err != nil {
			db.closeErr = fmt.Errorf("close %s: %w", db.store.Path(), err)
			db.logger.Error("close failed", "path", db.store.Path(), "error", err)
			return
		}
		db.logger.Debug("database closed", "path", db.store.Path())
	})
	return db.closeErr
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.store.Path()
}

// Stats returns the current queue depth and worker state.
func (db *DB) Stats() Stats {
	return Stats{Pending: db.worker.Len(), State: db.worker.State()}
}

// Submit builds req and queues it. With wait set, the returned Op carries a
// completion signal and Op.Wait blocks until it has run; otherwise nothing
// can wait on it and the outcome reaches only cb.
//
// Build errors and ErrClosed are returned here and nothing is queued.
func (db *DB) Submit(req Request, cb Callback, wait bool) (*Op, error) {
	operation, err := req.build()
	if err != nil {
		return nil, err
	}
	op := engine.NewOp(operation, cb)
	if wait {
		op = engine.NewSyncOp(operation, cb)
	}
	if err := db.worker.Submit(op); err != nil {
		return nil, err
	}
	return op, nil
}

// SubmitAsync builds req and queues it without waiting. cb, if not nil, runs
// on the worker goroutine once the statement has executed.
func (db *DB) SubmitAsync(req Request, cb Callback) (*Op, error) {
	return db.Submit(req, cb, false)
}

// SubmitSync builds req, queues it and blocks until it has executed and cb,
// if not nil, has returned.
//
// If ctx ends first, SubmitSync returns ctx.Err(); the statement still runs
// when its turn comes.
func (db *DB) SubmitSync(ctx context.Context, req Request, cb Callback) (Result, error) {
	op, err := db.Submit(req, cb, true)
	if err != nil {
		return Result{}, err
	}
	return op.Wait(ctx)
}

// Get returns the rows of table matching where. Empty fields selects every
// column.
func (db *DB) Get(ctx context.Context, table string, fields []string, where Conditions) ([]Row, error) {
	res, err := db.SubmitSync(ctx, GetRequest{Table: table, Fields: fields, Where: where}, nil)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Insert adds a row and returns its rowid.
func (db *DB) Insert(ctx context.Context, table string, data Values) (int64, error) {
	res, err := db.SubmitSync(ctx, InsertRequest{Table: table, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// Update sets data on the rows matching where and returns how many changed.
func (db *DB) Update(ctx context.Context, table string, data Values, where Conditions) (int64, error) {
	res, err := db.SubmitSync(ctx, UpdateRequest{Table: table, Data: data, Where: where}, nil)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// Delete removes the rows matching where and returns how many were removed.
func (db *DB) Delete(ctx context.Context, table string, where Conditions) (int64, error) {
	res, err := db.SubmitSync(ctx, DeleteRequest{Table: table, Where: where}, nil)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// Exec runs a statement that returns no rows, such as DDL.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	return db.SubmitSync(ctx, ExecRequest{SQL: sql, Args: args}, nil)
}

// Query runs a statement that returns rows.
func (db *DB) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	res, err := db.SubmitSync(ctx, QueryRequest{SQL: sql, Args: args}, nil)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// GetAsync queues a Get. cb receives the rows or the error.
func (db *DB) GetAsync(table string, fields []string, where Conditions, cb func([]Row, error)) error {
	_, err := db.SubmitAsync(GetRequest{Table: table, Fields: fields, Where: where}, func(res Result, err error) {
		if cb != nil {
			cb(res.Rows, err)
		}
	})
	return err
}

// InsertAsync queues an Insert. cb, if not nil, receives the rowid or the
// error.
func (db *DB) InsertAsync(table string, data Values, cb func(int64, error)) error {
	_, err := db.SubmitAsync(InsertRequest{Table: table, Data: data}, countCallback(cb, func(r Result) int64 { return r.LastInsertID }))
	return err
}

// UpdateAsync queues an Update. cb, if not nil, receives the number of rows
// changed or the error.
func (db *DB) UpdateAsync(table string, data Values, where Conditions, cb func(int64, error)) error {
	_, err := db.SubmitAsync(UpdateRequest{Table: table, Data: data, Where: where}, countCallback(cb, affected))
	return err
}

// DeleteAsync queues a Delete. cb, if not nil, receives the number of rows
// removed or the error.
func (db *DB) DeleteAsync(table string, where Conditions, cb func(int64, error)) error {
	_, err := db.SubmitAsync(DeleteRequest{Table: table, Where: where}, countCallback(cb, affected))
	return err
}

func affected(r Result) int64 { return r.RowsAffected }

func countCallback(cb func(int64, error), pick func(Result) int64) Callback {
	if cb == nil {
		return nil
	}
	return func(res Result, err error) {
		if err != nil {
			cb(0, err)
			return
		}
		cb(pick(res), nil)
	}
}
