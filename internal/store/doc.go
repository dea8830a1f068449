// Package store owns the single SQLite connection used by lane.
//
// A Store pins exactly one *sql.Conn for its whole life. Nothing in this
// package synchronizes access to it: callers must guarantee that only one
// goroutine issues statements, which the engine's worker does.
//
// # Database Configuration
//
//   - journal_mode: WAL by default (memory databases report "memory")
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks held by other processes
//   - foreign_keys=ON: Enforce referential integrity
//
// # Drivers
//
// The default build registers github.com/mattn/go-sqlite3 (cgo). Building
// with -tags modernc switches to modernc.org/sqlite, which needs no C
// toolchain. Both speak the same SQL dialect and pragmas.
package store
