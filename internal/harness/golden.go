package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a trace as stable, line-oriented text for golden
// comparison and CLI output.
//
//	#1 step=add-alice op=insert mode=sync id=op-2 seq=2
//	  sql: INSERT INTO users (username) VALUES (?)
//	  args: [alice]
//	  outcome: ok
//	  rows_affected: 1
//	  last_insert_id: 1
func FormatTrace(scriptName string, trace []TraceEvent) []byte {
	var buf strings.Builder

	fmt.Fprintf(&buf, "script: %s\n", scriptName)
	fmt.Fprintf(&buf, "events: %d\n", len(trace))

	for i, ev := range trace {
		fmt.Fprintf(&buf, "\n#%d step=%s op=%s mode=%s", i+1, ev.Step, ev.Op, ev.Mode)
		if ev.ID != "" {
			fmt.Fprintf(&buf, " id=%s seq=%d", ev.ID, ev.Seq)
		}
		buf.WriteString("\n")

		if ev.SQL != "" {
			fmt.Fprintf(&buf, "  sql: %s\n", ev.SQL)
		}
		if len(ev.Args) > 0 {
			fmt.Fprintf(&buf, "  args: %v\n", ev.Args)
		}
		fmt.Fprintf(&buf, "  outcome: %s\n", ev.Outcome)
		if ev.Error != "" {
			fmt.Fprintf(&buf, "  error: %s\n", ev.Error)
		}
		if ev.Columns != nil {
			fmt.Fprintf(&buf, "  columns: %v\n", ev.Columns)
		}
		for _, row := range ev.Rows {
			fmt.Fprintf(&buf, "  row: %v\n", row)
		}
		if ev.RowsAffected != nil {
			fmt.Fprintf(&buf, "  rows_affected: %d\n", *ev.RowsAffected)
		}
		if ev.LastInsertID != nil {
			fmt.Fprintf(&buf, "  last_insert_id: %d\n", *ev.LastInsertID)
		}
	}

	return []byte(buf.String())
}

// RunWithGolden runs a script and compares its trace with
// testdata/golden/{script.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the script could not run. A trace mismatch fails t.
func RunWithGolden(t *testing.T, script *Script) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), script)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, script.Name, result)
	return result, nil
}

// AssertGolden compares a result's trace with a golden file without running
// anything.
func AssertGolden(t *testing.T, scriptName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scriptName, FormatTrace(scriptName, result.Trace))
}
