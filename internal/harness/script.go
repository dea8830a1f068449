package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Step operations.
const (
	OpGet    = "get"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpExec   = "exec"
	OpQuery  = "query"
)

// Script is a sequence of operations run against a fresh database, plus the
// checks applied to what they did.
type Script struct {
	// Name identifies the script and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the script exercises.
	Description string `yaml:"description"`

	// Setup holds raw statements (usually CREATE TABLE) run before Steps.
	// They are not traced.
	Setup []string `yaml:"setup,omitempty"`

	// Steps are submitted in order. Async steps do not wait; the worker still
	// runs everything in submission order.
	Steps []Step `yaml:"steps"`

	// Assertions run after every step has completed.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation.
type Step struct {
	// Name labels the step in the trace and in trace_order assertions.
	// Defaults to "<op>#<index>".
	Name string `yaml:"name,omitempty"`

	// Op is get, insert, update, delete, exec or query.
	Op string `yaml:"op"`

	Table  string   `yaml:"table,omitempty"`
	Fields []string `yaml:"fields,omitempty"`

	// Data holds column assignments for insert and update, in document order.
	Data yaml.Node `yaml:"data,omitempty"`

	// Where is a condition map, in document order:
	//
	//	where:
	//	  age[>]: 18
	//	  ORDER BY: [{age: desc}]
	Where yaml.Node `yaml:"where,omitempty"`

	// SQL and Args are used by exec and query.
	SQL  string `yaml:"sql,omitempty"`
	Args []any  `yaml:"args,omitempty"`

	// Mode is sync (default) or async.
	Mode string `yaml:"mode,omitempty"`

	// Expect, if set, is checked against the step's outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes a step's expected outcome. Unset fields are not checked.
type Expect struct {
	// Error, if set, must appear in the step's error message. If empty the
	// step must succeed.
	Error string `yaml:"error,omitempty"`

	Rows         *int   `yaml:"rows,omitempty"`
	RowsAffected *int64 `yaml:"rows_affected,omitempty"`
	LastInsertID *int64 `yaml:"last_insert_id,omitempty"`

	// Values is matched row by row against the result; each entry is a
	// subset of the row's columns.
	Values []map[string]any `yaml:"values,omitempty"`
}

// Assertion types.
const (
	AssertRowCount   = "row_count"
	AssertFinalState = "final_state"
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
)

// Assertion validates the trace or the database after the run.
type Assertion struct {
	// Type is row_count, final_state, trace_order or trace_count.
	Type string `yaml:"type"`

	// Table and Where select rows (row_count, final_state).
	Table string    `yaml:"table,omitempty"`
	Where yaml.Node `yaml:"where,omitempty"`

	// Count is the expected number of rows (row_count) or steps (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect is a subset of the single matching row (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Steps are step names expected in this order (trace_order).
	Steps []string `yaml:"steps,omitempty"`

	// Op and Outcome select trace entries to count (trace_count). An empty
	// Outcome counts both ok and error.
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses a script document. Unknown fields are rejected so typos
// like "assertion:" fail loudly.
func ParseScript(data []byte) (*Script, error) {
	var script Script
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&script); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScript(&script); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &script, nil
}

// validateScript checks required fields and fills defaults.
func validateScript(s *Script) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Steps))
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Mode == "" {
			step.Mode = ModeSync
		}
		if step.Name == "" {
			step.Name = fmt.Sprintf("%s#%d", step.Op, i)
		}
		if names[step.Name] {
			return fmt.Errorf("steps[%d]: duplicate name %q", i, step.Name)
		}
		names[step.Name] = true

		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	switch step.Mode {
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("steps[%d]: unknown mode %q", i, step.Mode)
	}

	switch step.Op {
	case OpGet, OpDelete:
		if step.Table == "" {
			return fmt.Errorf("steps[%d]: table is required for %s", i, step.Op)
		}
	case OpInsert, OpUpdate:
		if step.Table == "" {
			return fmt.Errorf("steps[%d]: table is required for %s", i, step.Op)
		}
		if step.Data.Kind == 0 {
			return fmt.Errorf("steps[%d]: data is required for %s", i, step.Op)
		}
	case OpExec, OpQuery:
		if step.SQL == "" {
			return fmt.Errorf("steps[%d]: sql is required for %s", i, step.Op)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertTraceOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
