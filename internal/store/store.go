package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/lane/internal/querysql"
)

// ErrClosed is returned by statements issued after Close.
var ErrClosed = errors.New("store is closed")

// Config holds connection settings applied when the store is opened.
type Config struct {
	// JournalMode is the SQLite journal mode. Default: "WAL".
	JournalMode string

	// Synchronous is the SQLite synchronous level. Default: "NORMAL".
	Synchronous string

	// BusyTimeout bounds how long a statement waits on a lock held by
	// another process. Default: 5s.
	BusyTimeout time.Duration

	// DisableForeignKeys turns off foreign key enforcement.
	DisableForeignKeys bool
}

// defaults returns a copy of cfg with default values applied.
func (cfg Config) defaults() Config {
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return cfg
}

func (cfg Config) pragmas() []string {
	fk := "ON"
	if cfg.DisableForeignKeys {
		fk = "OFF"
	}
	return []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", cfg.JournalMode),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		fmt.Sprintf("PRAGMA foreign_keys = %s", fk),
	}
}

// Store holds the one live connection to a SQLite database.
type Store struct {
	path string
	db   *sql.DB
	conn *sql.Conn

	mu     sync.Mutex
	closed bool
}

// ExecResult is the outcome of a statement that returns no rows.
type ExecResult struct {
	LastInsertID int64
	RowsAffected int64
}

// Open creates or opens a SQLite database at the given path and pins a
// single connection to it. Use ":memory:" for a private in-memory database.
func Open(path string, cfg Config) (*Store, error) {
	cfg = cfg.defaults()

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One physical connection; the worker is its only user.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(conn, cfg); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &Store{path: path, db: db, conn: conn}, nil
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close releases the connection. Calling Close more than once is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.db == nil {
		s.closed = true
		return nil
	}
	s.closed = true

	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Query runs a statement and reads every row.
// Column order in each Row follows the statement's result columns.
func (s *Store) Query(ctx context.Context, stmt querysql.Statement) ([]Row, error) {
	if s.Closed() {
		return nil, ErrClosed
	}

	rows, err := s.conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	columns := make([]string, len(types))
	textual := make([]bool, len(types))
	for i, ct := range types {
		columns[i] = ct.Name()
		textual[i] = hasTextAffinity(ct.DatabaseTypeName())
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok && textual[i] {
				values[i] = string(b)
			}
		}
		result = append(result, Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// Exec runs a statement that returns no rows.
func (s *Store) Exec(ctx context.Context, stmt querysql.Statement) (ExecResult, error) {
	if s.Closed() {
		return ExecResult{}, ErrClosed
	}

	res, err := s.conn.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec: %w", err)
	}

	var out ExecResult
	if out.LastInsertID, err = res.LastInsertId(); err != nil {
		return ExecResult{}, fmt.Errorf("last insert id: %w", err)
	}
	if out.RowsAffected, err = res.RowsAffected(); err != nil {
		return ExecResult{}, fmt.Errorf("rows affected: %w", err)
	}
	return out, nil
}

// applyPragmas sets required SQLite configuration on the pinned connection.
func applyPragmas(conn *sql.Conn, cfg Config) error {
	for _, pragma := range cfg.pragmas() {
		if _, err := conn.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// hasTextAffinity applies SQLite's type affinity rule for TEXT: a declared
// type containing CHAR, CLOB or TEXT.
func hasTextAffinity(declType string) bool {
	t := strings.ToUpper(declType)
	return strings.Contains(t, "CHAR") || strings.Contains(t, "CLOB") || strings.Contains(t, "TEXT")
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.conn.QueryRowContext(context.Background(), query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
