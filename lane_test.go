package lane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lane/internal/engine"
	"github.com/roach88/lane/internal/queryir"
	"github.com/roach88/lane/internal/querysql"
)

const usersDDL = `CREATE TABLE users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email    TEXT,
	age      INTEGER,
	status   TEXT
)`

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// openTestDB opens a file-backed database with a users table.
func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lane.db")
	db, err := Open(path, append([]Option{quiet()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(context.Background(), usersDDL)
	require.NoError(t, err)
	return db
}

func seedUsers(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []Values{
		Set("username", "alice", "email", "alice@example.com", "age", 34, "status", "active"),
		Set("username", "bob", "email", "bob@example.com", "age", 17, "status", "pending"),
		Set("username", "carol", "email", "carol@example.com", "age", 52, "status", "banned"),
		Set("username", "dave", "email", "dave@example.com", "age", 25, "status", "pending"),
	} {
		_, err := db.Insert(ctx, "users", u)
		require.NoError(t, err)
	}
}

func usernames(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		v, _ := r.Get("username")
		out[i], _ = v.(string)
	}
	return out
}

func TestSyncRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Insert(ctx, "users", Set("username", "a", "email", "a@x"))
	require.NoError(t, err)
	assert.Positive(t, id)

	rows, err := db.Get(ctx, "users", nil, Where("username", "a"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"id", "username", "email", "age", "status"}, rows[0].Columns)
	assert.Equal(t, id, rows[0].Values[0])
	assert.Equal(t, "a", rows[0].Values[1])
	assert.Equal(t, "a@x", rows[0].Values[2])
	assert.Nil(t, rows[0].Values[3])
}

func TestGet_Conditions(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	tests := []struct {
		name   string
		fields []string
		where  Conditions
		want   []string
	}{
		{
			name: "no conditions",
			want: []string{"alice", "bob", "carol", "dave"},
		},
		{
			name:  "comparison and membership",
			where: Where("age[>]", 18, "status[IN]", []string{"active", "pending"}),
			want:  []string{"alice", "dave"},
		},
		{
			name:  "not in, lower case operator",
			where: Where("status[not in]", []any{"banned"}, OrderBy, []Order{Desc("age")}),
			want:  []string{"alice", "dave", "bob"},
		},
		{
			name:  "like",
			where: Where("email[LIKE]", "%o%@example.com", OrderBy, []Order{Asc("username")}),
			want:  []string{"bob", "carol"},
		},
		{
			name:   "selected fields",
			fields: []string{"username"},
			where:  Where("status", "pending", OrderBy, []map[string]string{{"age": "desc"}}),
			want:   []string{"dave", "bob"},
		},
		{
			name:  "empty IN list matches nothing",
			where: Where("status[IN]", []string{}),
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := db.Get(ctx, "users", tt.fields, tt.where)
			require.NoError(t, err)
			assert.Equal(t, tt.want, usernames(rows))
			if len(tt.fields) > 0 && len(rows) > 0 {
				assert.Equal(t, tt.fields, rows[0].Columns)
			}
		})
	}
}

func TestGet_ConditionsFromYAML(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)

	where, err := queryir.ParseYAML([]byte(`
age[>=]: 25
ORDER BY:
  - age: desc
`))
	require.NoError(t, err)

	rows, err := db.Get(context.Background(), "users", []string{"username", "age"}, where)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "alice", "dave"}, usernames(rows))
}

func TestUpdateAndDelete(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	n, err := db.Update(ctx, "users", Set("status", "active"), Where("status", "pending"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.Delete(ctx, "users", Where("age[<]", 18))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := db.Get(ctx, "users", nil, Where("status", "active", OrderBy, []Order{Asc("id")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "dave"}, usernames(rows))

	n, err = db.Delete(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestQueryAndExec(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	rows, err := db.Query(ctx, "SELECT status, COUNT(*) AS n FROM users GROUP BY status ORDER BY status")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"status", "n"}, rows[0].Columns)
	assert.Equal(t, []any{"active", int64(1)}, rows[0].Values)

	res, err := db.Exec(ctx, "UPDATE users SET age = age + ?", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowsAffected)
}

func TestBuildErrorsAreNotQueued(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty table", GetRequest{}, querysql.ErrNoTable},
		{"empty insert", InsertRequest{Table: "users"}, querysql.ErrNoValues},
		{"malformed key", GetRequest{Table: "users", Where: Where("age[>", 1)}, queryir.ErrMalformedKey},
		{"bad direction", GetRequest{Table: "users", Where: Where(OrderBy, []Order{{Column: "age", Direction: "sideways"}})}, queryir.ErrBadOrder},
		{"empty sql", ExecRequest{SQL: "  "}, querysql.ErrNoSQL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			_, err := db.SubmitSync(ctx, tt.req, func(Result, error) { called = true })
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, querysql.IsBuildError(err))

			op, err := db.SubmitAsync(tt.req, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, op)

			assert.False(t, called)
			assert.Equal(t, 0, db.Stats().Pending)
		})
	}
}

func TestExecutionErrorDoesNotStopWorker(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Insert(ctx, "missing", Set("x", 1))
	require.Error(t, err)
	assert.True(t, engine.IsExecError(err))
	assert.Contains(t, err.Error(), "no such table")

	_, err = db.Insert(ctx, "users", Set("username", "a"))
	require.NoError(t, err)
	_, err = db.Insert(ctx, "users", Set("username", "a"))
	require.Error(t, err, "duplicate username must violate UNIQUE")
	assert.Contains(t, err.Error(), "UNIQUE")

	rows, err := db.Get(ctx, "users", nil, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, engine.StateRunning, db.Stats().State)
}

func TestAsyncCallbacks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	const n = 50
	var (
		mu  sync.Mutex
		ids []int64
	)
	for i := 0; i < n; i++ {
		err := db.InsertAsync("users", Set("username", fmt.Sprintf("user%02d", i)), func(id int64, err error) {
			if assert.NoError(t, err) {
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		})
		require.NoError(t, err)
	}

	// FIFO: this read runs after every insert above.
	rows, err := db.Get(ctx, "users", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, n)
	for i := 1; i < n; i++ {
		assert.Greater(t, ids[i], ids[i-1], "rowids follow submission order")
	}
}

func TestAsyncHelpersDeliverOutcome(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	var (
		gotRows    []Row
		gotUpdated int64
		gotDeleted int64
		gotErr     error
	)
	require.NoError(t, db.GetAsync("users", []string{"username"}, Where("age[>]", 30), func(rows []Row, err error) {
		gotRows = rows
	}))
	require.NoError(t, db.UpdateAsync("users", Set("age", 0), Where("username", "bob"), func(n int64, err error) {
		gotUpdated = n
	}))
	require.NoError(t, db.DeleteAsync("users", Where("username[IN]", []string{"carol", "dave"}), func(n int64, err error) {
		gotDeleted = n
	}))
	require.NoError(t, db.InsertAsync("nope", Set("x", 1), func(_ int64, err error) {
		gotErr = err
	}))
	require.NoError(t, db.DeleteAsync("users", Where("username", "zed"), nil))

	// The sync call below is queued last, so every callback has run once it
	// returns.
	_, err := db.Exec(ctx, "SELECT 1")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "carol"}, usernames(gotRows))
	assert.Equal(t, int64(1), gotUpdated)
	assert.Equal(t, int64(2), gotDeleted)
	assert.True(t, engine.IsExecError(gotErr))
}

func TestSubmitSync_CallbackBeforeReturn(t *testing.T) {
	db := openTestDB(t)

	var seen Result
	res, err := db.SubmitSync(context.Background(), InsertRequest{Table: "users", Data: Set("username", "x")}, func(r Result, err error) {
		seen = r
	})
	require.NoError(t, err)
	assert.Equal(t, res.LastInsertID, seen.LastInsertID)
}

func TestSubmitSync_ContextReleasesCaller(t *testing.T) {
	db := openTestDB(t)

	gate := make(chan struct{})
	_, err := db.SubmitAsync(QueryRequest{SQL: "SELECT 1"}, func(Result, error) { <-gate })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = db.SubmitSync(ctx, InsertRequest{Table: "users", Data: Set("username", "late")}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)

	// The abandoned insert still ran.
	rows, err := db.Get(context.Background(), "users", nil, Where("username", "late"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestClose_DrainsPendingOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drain.db")
	db, err := Open(path, quiet())
	require.NoError(t, err)

	_, err = db.Exec(context.Background(), usersDDL)
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		_, err := db.SubmitAsync(ExecRequest{SQL: "INSERT INTO users (username) VALUES (?)", Args: []any{i}}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	assert.Equal(t, engine.StateStopped, db.Stats().State)

	err = With(path, func(db *DB) error {
		rows, err := db.Query(context.Background(), "SELECT COUNT(*) FROM users")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(n), rows[0].Values[0])
		return nil
	}, quiet())
	require.NoError(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	db, err := Open(":memory:", quiet())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Get(context.Background(), "users", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	err = db.InsertAsync("users", Set("username", "x"), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_ConcurrentWithSubmitters(t *testing.T) {
	db, err := Open(":memory:", quiet())
	require.NoError(t, err)
	_, err = db.Exec(context.Background(), "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		executed int
	)
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := db.InsertAsync("t", Set("v", i), func(_ int64, err error) {
					if err == nil {
						mu.Lock()
						executed++
						mu.Unlock()
					}
				})
				if errors.Is(err, ErrClosed) {
					return
				}
				if assert.NoError(t, err) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	require.NoError(t, db.Close())
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, accepted, executed, "every accepted op ran before Close returned")
}

func TestWith_ClosesOnError(t *testing.T) {
	var captured *DB
	boom := errors.New("boom")

	err := With(":memory:", func(db *DB) error {
		captured = db
		return boom
	}, quiet())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, captured)
	assert.Equal(t, engine.StateStopped, captured.Stats().State)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "x.db"), quiet())
	assert.Error(t, err)
}

func TestOpen_Options(t *testing.T) {
	reg := prometheus.NewRegistry()
	db, err := Open(filepath.Join(t.TempDir(), "opts.db"),
		quiet(),
		WithBusyTimeout(time.Second),
		WithJournalMode("DELETE"),
		WithSynchronous("FULL"),
		WithoutForeignKeys(),
		WithRegisterer(reg),
		WithIDGenerator(engine.NewSequenceGenerator("t")),
	)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(context.Background(), "PRAGMA journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "delete", rows[0].Values[0])

	rows, err = db.Query(context.Background(), "PRAGMA foreign_keys")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows[0].Values[0])

	op, err := db.SubmitAsync(ExecRequest{SQL: "SELECT 1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "t-3", op.ID)

	_, err = db.Exec(context.Background(), "SELECT 1")
	require.NoError(t, err)

	// select/ok and exec/ok.
	count, err := promtest.GatherAndCount(reg, "lane_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
