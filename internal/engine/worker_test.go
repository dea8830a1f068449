package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lane/internal/querysql"
	"github.com/roach88/lane/internal/store"
	"github.com/roach88/lane/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, exec Executor, opts ...WorkerOption) *Worker {
	t.Helper()
	opts = append([]WorkerOption{WithLogger(quietLogger())}, opts...)
	w := NewWorker(exec, opts...)
	w.Start()
	t.Cleanup(w.Shutdown)
	return w
}

func stmt(sql string) querysql.Statement {
	return querysql.Statement{SQL: sql}
}

func TestWorker_SyncRoundTrip(t *testing.T) {
	exec := &testutil.RecordingExecutor{
		Rows: []store.Row{{Columns: []string{"id"}, Values: []any{int64(1)}}},
	}
	w := newTestWorker(t, exec)

	op := NewSyncOp(Select{Stmt: stmt("SELECT id FROM t")}, nil)
	require.NoError(t, w.Submit(op))

	res, err := op.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{int64(1)}, res.Rows[0].Values)
	assert.True(t, op.Completed())
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, int64(1), op.Seq)
}

func TestWorker_ExecVariantsReportCounts(t *testing.T) {
	exec := &testutil.RecordingExecutor{}
	w := newTestWorker(t, exec)

	for _, operation := range []Operation{
		Insert{Stmt: stmt("INSERT")},
		Update{Stmt: stmt("UPDATE")},
		Delete{Stmt: stmt("DELETE")},
		Exec{Stmt: stmt("CREATE")},
	} {
		op := NewSyncOp(operation, nil)
		require.NoError(t, w.Submit(op))
		res, err := op.Wait(context.Background())
		require.NoError(t, err, operation.Kind().String())
		assert.Equal(t, int64(1), res.RowsAffected)
		assert.Positive(t, res.LastInsertID)
	}

	assert.Equal(t, []string{"INSERT", "UPDATE", "DELETE", "CREATE"}, exec.SQL())
}

func TestWorker_FIFOAcrossProducers(t *testing.T) {
	exec := &testutil.RecordingExecutor{}
	w := newTestWorker(t, exec)

	const producers = 16
	const perProducer = 25

	var (
		mu        sync.Mutex
		submitted = make(map[string]int64) // sql -> seq
		wg        sync.WaitGroup
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				sql := strconv.Itoa(p) + ":" + strconv.Itoa(i)
				var op *Op
				if i%3 == 0 {
					op = NewSyncOp(Exec{Stmt: stmt(sql)}, nil)
				} else {
					op = NewOp(Exec{Stmt: stmt(sql)}, nil)
				}
				if !assert.NoError(t, w.Submit(op)) {
					return
				}
				mu.Lock()
				submitted[sql] = op.Seq
				mu.Unlock()
				if op.Sync() {
					_, err := op.Wait(context.Background())
					assert.NoError(t, err)
				}
			}
		}(p)
	}
	wg.Wait()
	w.Shutdown()

	executed := exec.SQL()
	require.Len(t, executed, producers*perProducer)

	var last int64
	for _, sql := range executed {
		seq := submitted[sql]
		assert.Greater(t, seq, last, "%s executed out of submission order", sql)
		last = seq
	}
}

func TestWorker_AtMostOneInFlight(t *testing.T) {
	exec := &testutil.RecordingExecutor{Delay: time.Millisecond}
	w := newTestWorker(t, exec)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				op := NewSyncOp(Exec{Stmt: stmt("X")}, nil)
				if assert.NoError(t, w.Submit(op)) {
					_, _ = op.Wait(context.Background())
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, exec.MaxInFlight())
	assert.False(t, exec.Overlapping(), "statements overlapped in time")
}

func TestWorker_ErrorIsolation(t *testing.T) {
	exec := &testutil.RecordingExecutor{
		FailOn: func(s querysql.Statement) error {
			if s.SQL == "INSERT INTO missing" {
				return errors.New("no such table: missing")
			}
			return nil
		},
	}
	w := newTestWorker(t, exec)

	bad := NewOp(Insert{Stmt: stmt("INSERT INTO missing")}, nil)
	good := NewSyncOp(Insert{Stmt: stmt("INSERT INTO users")}, nil)
	require.NoError(t, w.Submit(bad))
	require.NoError(t, w.Submit(good))

	res, err := good.Wait(context.Background())
	require.NoError(t, err)
	assert.Positive(t, res.LastInsertID)

	_, badErr := bad.Outcome()
	require.Error(t, badErr)
	assert.True(t, IsExecError(badErr))
	assert.Contains(t, badErr.Error(), "no such table")

	var ee *ExecError
	require.ErrorAs(t, badErr, &ee)
	assert.Equal(t, KindInsert, ee.Kind)
	assert.Equal(t, bad.ID, ee.OpID)
	assert.Equal(t, StateRunning, w.State())
}

func TestWorker_PanicIsolation(t *testing.T) {
	exec := &testutil.RecordingExecutor{
		PanicOn: func(s querysql.Statement) bool { return s.SQL == "PANIC" },
	}
	w := newTestWorker(t, exec)

	bad := NewSyncOp(Exec{Stmt: stmt("PANIC")}, nil)
	require.NoError(t, w.Submit(bad))
	_, err := bad.Wait(context.Background())

	var pe *PanicError
	require.ErrorAs(t, err, &pe)

	good := NewSyncOp(Exec{Stmt: stmt("OK")}, nil)
	require.NoError(t, w.Submit(good))
	_, err = good.Wait(context.Background())
	assert.NoError(t, err)
}

func TestWorker_CallbackRunsBeforeSignal(t *testing.T) {
	exec := &testutil.RecordingExecutor{}
	w := newTestWorker(t, exec)

	var (
		called bool
		gotRes Result
		gotErr error
	)
	op := NewSyncOp(Insert{Stmt: stmt("INSERT")}, func(res Result, err error) {
		called = true
		gotRes, gotErr = res, err
	})
	require.NoError(t, w.Submit(op))

	res, err := op.Wait(context.Background())
	require.NoError(t, err)

	// No extra synchronization: closing Done happens after the callback.
	assert.True(t, called)
	assert.NoError(t, gotErr)
	assert.Equal(t, res, gotRes)
}

func TestWorker_CallbackReceivesError(t *testing.T) {
	boom := errors.New("constraint failed")
	exec := &testutil.RecordingExecutor{
		FailOn: func(querysql.Statement) error { return boom },
	}
	w := newTestWorker(t, exec)

	errs := make(chan error, 1)
	op := NewOp(Insert{Stmt: stmt("INSERT")}, func(_ Result, err error) {
		errs <- err
	})
	require.NoError(t, w.Submit(op))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestWorker_CallbackPanicDoesNotStopLoop(t *testing.T) {
	exec := &testutil.RecordingExecutor{}
	w := newTestWorker(t, exec)

	require.NoError(t, w.Submit(NewOp(Exec{Stmt: stmt("A")}, func(Result, error) {
		panic("callback bug")
	})))

	op := NewSyncOp(Exec{Stmt: stmt("B")}, nil)
	require.NoError(t, w.Submit(op))
	_, err := op.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, exec.SQL())
}

func TestWorker_DrainCompleteness(t *testing.T) {
	exec := &testutil.RecordingExecutor{Delay: time.Millisecond}
	w := NewWorker(exec, WithLogger(quietLogger()))
	w.Start()

	var (
		mu        sync.Mutex
		callbacks int
	)
	ops := make([]*Op, 20)
	for i := range ops {
		ops[i] = NewOp(Exec{Stmt: stmt("X")}, func(Result, error) {
			mu.Lock()
			callbacks++
			mu.Unlock()
		})
		require.NoError(t, w.Submit(ops[i]))
	}

	w.Shutdown()

	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, 0, w.Len())
	for i, op := range ops {
		assert.True(t, op.Completed(), "op %d not executed before Shutdown returned", i)
	}
	mu.Lock()
	assert.Equal(t, len(ops), callbacks)
	mu.Unlock()
}

func TestWorker_ShutdownIdempotent(t *testing.T) {
	w := NewWorker(&testutil.RecordingExecutor{}, WithLogger(quietLogger()))
	w.Start()

	w.Shutdown()
	assert.NotPanics(t, w.Shutdown)
	assert.Equal(t, StateStopped, w.State())

	select {
	case <-w.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}
}

func TestWorker_ConcurrentShutdown(t *testing.T) {
	w := NewWorker(&testutil.RecordingExecutor{Delay: time.Millisecond}, WithLogger(quietLogger()))
	w.Start()
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Submit(NewOp(Exec{Stmt: stmt("X")}, nil)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Shutdown()
			// Every caller returns only after the loop exits.
			assert.Equal(t, StateStopped, w.State())
		}()
	}
	wg.Wait()
}

func TestWorker_SubmitAfterShutdown(t *testing.T) {
	w := NewWorker(&testutil.RecordingExecutor{}, WithLogger(quietLogger()))
	w.Start()
	w.Shutdown()

	err := w.Submit(NewOp(Exec{Stmt: stmt("late")}, nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorker_ShutdownWithoutStartDrains(t *testing.T) {
	exec := &testutil.RecordingExecutor{}
	w := NewWorker(exec, WithLogger(quietLogger()))
	assert.Equal(t, StateIdle, w.State())

	op := NewOp(Exec{Stmt: stmt("queued")}, nil)
	require.NoError(t, w.Submit(op))

	w.Shutdown()
	assert.True(t, op.Completed())
	assert.Equal(t, []string{"queued"}, exec.SQL())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_SubmitValidation(t *testing.T) {
	w := newTestWorker(t, &testutil.RecordingExecutor{})

	assert.ErrorIs(t, w.Submit(nil), ErrNoOperation)
	assert.ErrorIs(t, w.Submit(&Op{}), ErrNoOperation)

	op := NewSyncOp(Exec{Stmt: stmt("once")}, nil)
	require.NoError(t, w.Submit(op))
	assert.ErrorIs(t, w.Submit(op), ErrAlreadySubmitted)
	_, err := op.Wait(context.Background())
	assert.NoError(t, err)
}

func TestWorker_IDGenerator(t *testing.T) {
	w := newTestWorker(t, &testutil.RecordingExecutor{}, WithIDGenerator(NewSequenceGenerator("op")))

	first := NewSyncOp(Exec{Stmt: stmt("A")}, nil)
	second := NewSyncOp(Exec{Stmt: stmt("B")}, nil)
	second.ID = "caller-chosen"
	require.NoError(t, w.Submit(first))
	require.NoError(t, w.Submit(second))

	assert.Equal(t, "op-1", first.ID)
	assert.Equal(t, "caller-chosen", second.ID)
}

func TestOp_WaitOnAsyncOp(t *testing.T) {
	op := NewOp(Exec{Stmt: stmt("X")}, nil)
	assert.False(t, op.Sync())
	assert.Nil(t, op.Done())

	_, err := op.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotSync)
}

func TestOp_WaitHonoursContext(t *testing.T) {
	// Never started: the op stays queued.
	w := NewWorker(&testutil.RecordingExecutor{}, WithLogger(quietLogger()))
	op := NewSyncOp(Exec{Stmt: stmt("X")}, nil)
	require.NoError(t, w.Submit(op))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := op.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The op still runs once the worker drains.
	w.Shutdown()
	assert.True(t, op.Completed())
}

func TestWorker_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	exec := &testutil.RecordingExecutor{
		FailOn: func(s querysql.Statement) error {
			if s.SQL == "bad" {
				return errors.New("bad")
			}
			return nil
		},
	}
	w := NewWorker(exec, WithLogger(quietLogger()), WithMetrics(m))
	w.Start()

	require.NoError(t, w.Submit(NewOp(Insert{Stmt: stmt("good")}, nil)))
	require.NoError(t, w.Submit(NewOp(Insert{Stmt: stmt("bad")}, nil)))
	require.NoError(t, w.Submit(NewOp(Select{Stmt: stmt("q")}, nil)))
	w.Shutdown()

	assert.Equal(t, 1.0, promtest.ToFloat64(m.OperationsTotal.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.OperationsTotal.WithLabelValues("insert", "error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.OperationsTotal.WithLabelValues("select", "ok")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.QueueDepth))
	assert.Equal(t, 2, promtest.CollectAndCount(m.OperationDuration))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "select", KindSelect.String())
	assert.Equal(t, "insert", KindInsert.String())
	assert.Equal(t, "update", KindUpdate.String())
	assert.Equal(t, "delete", KindDelete.String())
	assert.Equal(t, "exec", KindExec.String())
	assert.Equal(t, "kind(0)", Kind(0).String())
}
