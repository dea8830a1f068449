package lane

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/lane/internal/engine"
	"github.com/roach88/lane/internal/store"
)

// Option configures a DB at Open.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	store      store.Config
	registerer prometheus.Registerer
	ids        engine.IDGenerator
}

func defaultOptions() options {
	return options{logger: slog.Default()}
}

// WithLogger sets the logger used by the worker and the DB.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBusyTimeout sets how long a statement waits on a lock held by another
// process. Default: 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.store.BusyTimeout = d
	}
}

// WithJournalMode sets the SQLite journal mode. Default: WAL.
func WithJournalMode(mode string) Option {
	return func(o *options) {
		o.store.JournalMode = mode
	}
}

// WithSynchronous sets the SQLite synchronous level. Default: NORMAL.
func WithSynchronous(level string) Option {
	return func(o *options) {
		o.store.Synchronous = level
	}
}

// WithoutForeignKeys turns off foreign key enforcement.
func WithoutForeignKeys() Option {
	return func(o *options) {
		o.store.DisableForeignKeys = true
	}
}

// WithRegisterer registers worker metrics (lane_operations_total,
// lane_operation_duration_seconds, lane_queue_depth) with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithIDGenerator sets how operation IDs are assigned. Default: UUIDv7.
func WithIDGenerator(ids engine.IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}
