package cli

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/lane"
	"github.com/roach88/lane/internal/config"
)

// BenchResult is the report printed by bench.
type BenchResult struct {
	Producers int           `json:"producers"`
	Ops       int           `json:"ops"`
	OK        int64         `json:"ok"`
	Failed    int64         `json:"failed"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	OpsPerSec float64       `json:"ops_per_sec"`

	// Counted by the worker's metrics, keyed by "kind/status".
	Operations map[string]float64 `json:"operations"`
}

func (r BenchResult) String() string {
	return fmt.Sprintf("%d ops from %d producers in %s (%.0f ops/s): %d ok, %d failed",
		r.Ops, r.Producers, r.Elapsed.Round(time.Millisecond), r.OpsPerSec, r.OK, r.Failed)
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(opts *RootOptions) *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure throughput with concurrent producers",
		Long: `Submit asynchronous inserts from a pool of concurrent producers and report
throughput once the worker has drained the queue.

Example:
  lane bench --db ./bench.db --producers 16 --ops 10000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts)
		},
	}

	cmd.Flags().Int("producers", defaults.Bench.Producers, "number of concurrent producers")
	cmd.Flags().Int("ops", defaults.Bench.Ops, "total inserts to submit")
	cmd.Flags().String("table", defaults.Bench.Table, "table to insert into (created if missing)")

	return cmd
}

func runBench(cmd *cobra.Command, opts *RootOptions) error {
	f := formatter(cmd, opts)
	cfg := opts.Config.Bench

	reg := prometheus.NewRegistry()
	db, err := openDB(opts, lane.WithRegisterer(reg))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, producer INTEGER, n INTEGER, at INTEGER)", cfg.Table)
	if _, err := db.Exec(ctx, ddl); err != nil {
		closeDB(db)
		return statementError(f, err)
	}

	pool, err := ants.NewPool(cfg.Producers, ants.WithPanicHandler(func(v any) {
		slog.Error("bench producer panic", "panic", v)
	}))
	if err != nil {
		closeDB(db)
		return WrapExitError(ExitCommandError, "failed to create producer pool", err)
	}
	defer pool.Release()

	var (
		ok, failed atomic.Int64
		wg         sync.WaitGroup
	)
	record := func(_ int64, err error) {
		if err != nil {
			failed.Add(1)
			return
		}
		ok.Add(1)
	}

	start := time.Now()
	for p := 0; p < cfg.Producers; p++ {
		share := cfg.Ops / cfg.Producers
		if p < cfg.Ops%cfg.Producers {
			share++
		}
		producer := p
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			for n := 0; n < share; n++ {
				if ctx.Err() != nil {
					return
				}
				data := lane.Set("producer", producer, "n", n, "at", time.Now().UnixNano())
				if err := db.InsertAsync(cfg.Table, data, record); err != nil {
					failed.Add(1)
				}
			}
		}); err != nil {
			wg.Done()
			slog.Error("failed to start producer", "producer", producer, "error", err)
		}
	}
	wg.Wait()
	f.VerboseLog("all producers done, pending=%d", db.Stats().Pending)

	// Close drains the queue; every callback has run once it returns.
	closeDB(db)
	elapsed := time.Since(start)

	result := BenchResult{
		Producers:  cfg.Producers,
		Ops:        cfg.Ops,
		OK:         ok.Load(),
		Failed:     failed.Load(),
		Elapsed:    elapsed,
		Operations: operationCounts(reg),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		result.OpsPerSec = float64(result.OK+result.Failed) / secs
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d inserts failed", result.Failed))
	}
	return nil
}

// operationCounts reads lane_operations_total from reg.
func operationCounts(reg prometheus.Gatherer) map[string]float64 {
	counts := map[string]float64{}

	families, err := reg.Gather()
	if err != nil {
		slog.Warn("failed to gather metrics", "error", err)
		return counts
	}
	for _, mf := range families {
		if mf.GetName() != "lane_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var kind, status string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "kind":
					kind = lp.GetValue()
				case "status":
					status = lp.GetValue()
				}
			}
			counts[kind+"/"+status] += m.GetCounter().GetValue()
		}
	}
	return counts
}
