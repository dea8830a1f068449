package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/lane"
	"github.com/roach88/lane/internal/queryir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", i+1, ev.Step, ev.Outcome, ev.SQL)
		}
	}

	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result and the
// database. Returns one message per failed assertion.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, db *lane.DB) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertRowCount:
			err = assertRowCount(ctx, db, assertion)
		case AssertFinalState:
			err = assertFinalState(ctx, db, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

// assertTraceOrder checks that the named steps ran in the given order.
// Other steps may run in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Step]; !seen {
			positions[ev.Step] = i + 1 // 1-indexed for readability
		}
	}

	for _, step := range assertion.Steps {
		if positions[step] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all steps present: %v", assertion.Steps),
				Actual:   fmt.Sprintf("missing step: %s", step),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Steps); i++ {
		prev, curr := assertion.Steps[i-1], assertion.Steps[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("steps in order: %v", assertion.Steps),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks how many steps of one op (and outcome) ran.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op != assertion.Op {
			continue
		}
		if assertion.Outcome != "" && ev.Outcome != assertion.Outcome {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Op
		if assertion.Outcome != "" {
			what += " (" + assertion.Outcome + ")"
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRowCount counts the rows of a table matching the assertion's where.
func assertRowCount(ctx context.Context, db *lane.DB, assertion Assertion) error {
	where, err := queryir.ConditionsFromNode(&assertion.Where)
	if err != nil {
		return fmt.Errorf("row_count %s: where: %w", assertion.Table, err)
	}

	rows, err := db.Get(ctx, assertion.Table, []string{"COUNT(*)"}, where)
	if err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	var got int64
	if len(rows) == 1 && len(rows[0].Values) == 1 {
		got, _ = rows[0].Values[0].(int64)
	}
	if got != int64(assertion.Count) {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, assertion.Table, formatWhere(where)),
			Actual:   fmt.Sprintf("%d rows", got),
		}
	}
	return nil
}

// assertFinalState checks that exactly one row matches and that it holds the
// expected values (subset semantics).
func assertFinalState(ctx context.Context, db *lane.DB, assertion Assertion) error {
	where, err := queryir.ConditionsFromNode(&assertion.Where)
	if err != nil {
		return fmt.Errorf("final_state %s: where: %w", assertion.Table, err)
	}

	rows, err := db.Get(ctx, assertion.Table, nil, where)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhere(where)),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhere(where)),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(rows)),
		}
	}

	if msg := matchRow(rows[0], assertion.Expect); msg != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s to hold %v", assertion.Table, formatWhere(where), assertion.Expect),
			Actual:   msg,
		}
	}
	return nil
}

// checkExpect compares a step's trace event with its Expect clause.
func checkExpect(step *Step, ev TraceEvent) []string {
	exp := step.Expect
	var msgs []string

	if exp.Error != "" {
		if ev.Outcome == OutcomeOK {
			return []string{fmt.Sprintf("expected error containing %q, step succeeded", exp.Error)}
		}
		if !strings.Contains(ev.Error, exp.Error) {
			msgs = append(msgs, fmt.Sprintf("expected error containing %q, got %q", exp.Error, ev.Error))
		}
		return msgs
	}
	if ev.Outcome != OutcomeOK {
		return []string{fmt.Sprintf("expected success, got %s: %s", ev.Outcome, ev.Error)}
	}

	if exp.Rows != nil && len(ev.Rows) != *exp.Rows {
		msgs = append(msgs, fmt.Sprintf("expected %d rows, got %d", *exp.Rows, len(ev.Rows)))
	}
	if exp.RowsAffected != nil && (ev.RowsAffected == nil || *ev.RowsAffected != *exp.RowsAffected) {
		msgs = append(msgs, fmt.Sprintf("expected %d rows affected, got %s", *exp.RowsAffected, formatCount(ev.RowsAffected)))
	}
	if exp.LastInsertID != nil && (ev.LastInsertID == nil || *ev.LastInsertID != *exp.LastInsertID) {
		msgs = append(msgs, fmt.Sprintf("expected last insert id %d, got %s", *exp.LastInsertID, formatCount(ev.LastInsertID)))
	}

	if exp.Values != nil {
		if len(exp.Values) > len(ev.Rows) {
			msgs = append(msgs, fmt.Sprintf("expected at least %d rows for values, got %d", len(exp.Values), len(ev.Rows)))
		} else {
			for i, want := range exp.Values {
				row := lane.Row{Columns: ev.Columns, Values: ev.Rows[i]}
				if msg := matchRow(row, want); msg != "" {
					msgs = append(msgs, fmt.Sprintf("row %d: %s", i, msg))
				}
			}
		}
	}

	return msgs
}

// matchRow checks that row holds every expected column value. Extra columns
// are ignored. Returns "" on match.
func matchRow(row lane.Row, expected map[string]any) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actual, ok := row.Get(key)
		if !ok {
			return fmt.Sprintf("column %q not present in %v", key, row.Columns)
		}
		if !valuesEqual(expected[key], actual) {
			return fmt.Sprintf("column %q = %v (type %T), want %v (type %T)", key, actual, actual, expected[key], expected[key])
		}
	}
	return ""
}

// valuesEqual compares a YAML-decoded expectation with a value read from
// SQLite. Integers compare by value whatever their Go width; booleans match
// SQLite's 0/1.
func valuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case int:
		return intEqual(int64(exp), actual)
	case int64:
		return intEqual(exp, actual)
	case float64:
		switch act := actual.(type) {
		case float64:
			return exp == act
		case int64:
			return exp == float64(act)
		}
		return false
	case bool:
		switch act := actual.(type) {
		case bool:
			return exp == act
		case int64:
			return exp == (act != 0)
		}
		return false
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func intEqual(exp int64, actual any) bool {
	switch act := actual.(type) {
	case int64:
		return exp == act
	case int:
		return exp == int64(act)
	case float64:
		return float64(exp) == act
	}
	return false
}

// formatWhere creates a human-readable description of conditions.
func formatWhere(where queryir.Conditions) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, c := range where {
		parts = append(parts, fmt.Sprintf("%s=%v", c.Key, c.Value))
	}
	return strings.Join(parts, " AND ")
}

func formatCount(n *int64) string {
	if n == nil {
		return "none"
	}
	return fmt.Sprint(*n)
}
