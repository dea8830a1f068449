package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/lane"
	"github.com/roach88/lane/internal/engine"
	"github.com/roach88/lane/internal/queryir"
	"github.com/roach88/lane/internal/querysql"
)

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	path   string
	logger *slog.Logger
}

// WithPath runs the script against the database at path instead of a fresh
// in-memory one.
func WithPath(path string) Option {
	return func(c *runConfig) { c.path = path }
}

// WithLogger sets the logger handed to the database. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// runner executes one script.
type runner struct {
	db     *lane.DB
	logger *slog.Logger

	mu       sync.Mutex
	executed []*TraceEvent // execution order
}

// Run executes a script and returns its trace and any failed checks.
//
// Each run opens its own database (":memory:" unless WithPath is given) with
// sequential op IDs ("op-1", "op-2", ...), so traces are reproducible.
//
// Execution flow:
// 1. Run setup statements
// 2. Submit every step in order, waiting only on sync steps
// 3. Wait for the queue to drain
// 4. Check step expectations and evaluate assertions
func Run(ctx context.Context, script *Script, opts ...Option) (*Result, error) {
	cfg := runConfig{
		path:   ":memory:",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := lane.Open(cfg.path,
		lane.WithLogger(cfg.logger),
		lane.WithIDGenerator(engine.NewSequenceGenerator("op")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	r := &runner{db: db, logger: cfg.logger}

	for i, stmt := range script.Setup {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	events := make([]*TraceEvent, len(script.Steps))
	ops := make([]*lane.Op, len(script.Steps))
	for i := range script.Steps {
		ev, op, err := r.submit(ctx, &script.Steps[i])
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", script.Steps[i].Name, err)
		}
		events[i], ops[i] = ev, op
	}

	// Everything submitted so far runs before this returns.
	if _, err := db.Query(ctx, "SELECT 1"); err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	result := NewResult()

	r.mu.Lock()
	for _, ev := range r.executed {
		result.Trace = append(result.Trace, *ev)
	}
	r.mu.Unlock()

	// Rejected steps never reach the worker; they go after executed ones.
	for i, ev := range events {
		if ops[i] == nil {
			result.Trace = append(result.Trace, *ev)
		}
	}

	for i := range script.Steps {
		step := &script.Steps[i]
		if step.Expect == nil {
			continue
		}
		for _, msg := range checkExpect(step, *events[i]) {
			result.AddError(fmt.Sprintf("step %s: %s", step.Name, msg))
		}
	}

	for _, msg := range EvaluateAssertions(ctx, result, script.Assertions, db) {
		result.AddError(msg)
	}

	return result, nil
}

// submit queues one step. Build errors are recorded as a rejected event, not
// returned. For sync steps submit blocks until the step has run.
func (r *runner) submit(ctx context.Context, step *Step) (*TraceEvent, *lane.Op, error) {
	ev := &TraceEvent{Step: step.Name, Op: step.Op, Mode: step.Mode}

	req, err := buildRequest(step)
	if err != nil {
		return nil, nil, err
	}

	op, err := r.db.Submit(req, r.record(ev), step.Mode == ModeSync)
	if err != nil {
		if !querysql.IsBuildError(err) {
			return nil, nil, err
		}
		ev.Outcome = OutcomeRejected
		ev.Error = err.Error()
		r.logger.Debug("step rejected", "step", step.Name, "error", err)
		return ev, nil, nil
	}

	ev.ID = op.ID
	ev.Seq = op.Seq
	stmt := op.Operation.Statement()
	ev.SQL = stmt.SQL
	ev.Args = stmt.Args

	if op.Sync() {
		// Execution errors are part of the trace, not of the run.
		_, _ = op.Wait(ctx)
	}
	return ev, op, nil
}

// record returns the callback filling ev. It runs on the worker goroutine.
func (r *runner) record(ev *TraceEvent) lane.Callback {
	return func(res lane.Result, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if err != nil {
			ev.Outcome = OutcomeError
			ev.Error = err.Error()
		} else {
			ev.Outcome = OutcomeOK
			fillResult(ev, res)
		}
		r.executed = append(r.executed, ev)
	}
}

func fillResult(ev *TraceEvent, res lane.Result) {
	switch ev.Op {
	case OpGet, OpQuery:
		ev.Rows = make([][]any, 0, len(res.Rows))
		for _, row := range res.Rows {
			if ev.Columns == nil {
				ev.Columns = row.Columns
			}
			ev.Rows = append(ev.Rows, row.Values)
		}
	default:
		affected, id := res.RowsAffected, res.LastInsertID
		ev.RowsAffected = &affected
		ev.LastInsertID = &id
	}
}

// buildRequest converts a step into a facade request. The statement itself
// is assembled later, by the facade.
func buildRequest(step *Step) (lane.Request, error) {
	where, err := queryir.ConditionsFromNode(&step.Where)
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	data, err := queryir.ValuesFromNode(&step.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}

	switch step.Op {
	case OpGet:
		return lane.GetRequest{Table: step.Table, Fields: step.Fields, Where: where}, nil
	case OpInsert:
		return lane.InsertRequest{Table: step.Table, Data: data}, nil
	case OpUpdate:
		return lane.UpdateRequest{Table: step.Table, Data: data, Where: where}, nil
	case OpDelete:
		return lane.DeleteRequest{Table: step.Table, Where: where}, nil
	case OpExec:
		return lane.ExecRequest{SQL: step.SQL, Args: step.Args}, nil
	case OpQuery:
		return lane.QueryRequest{SQL: step.SQL, Args: step.Args}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}
