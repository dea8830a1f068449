package harness

// Step outcomes recorded in the trace.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected" // build error, never queued
)

// TraceEvent is the record of one executed step.
// Events appear in the order the worker ran them.
type TraceEvent struct {
	Step    string `json:"step" yaml:"step"`
	Op      string `json:"op" yaml:"op"`
	Mode    string `json:"mode" yaml:"mode"`
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Seq     int64  `json:"seq,omitempty" yaml:"seq,omitempty"`
	SQL     string `json:"sql,omitempty" yaml:"sql,omitempty"`
	Args    []any  `json:"args,omitempty" yaml:"args,omitempty"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`

	// Set for get and query.
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Rows    [][]any  `json:"rows,omitempty" yaml:"rows,omitempty"`

	// Set for the other ops.
	RowsAffected *int64 `json:"rows_affected,omitempty" yaml:"rows_affected,omitempty"`
	LastInsertID *int64 `json:"last_insert_id,omitempty" yaml:"last_insert_id,omitempty"`
}

// Result is the outcome of running a script.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass" yaml:"pass"`

	// Trace holds one event per step in execution order.
	Trace []TraceEvent `json:"trace" yaml:"trace"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Event returns the trace event for the named step.
func (r *Result) Event(step string) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.Step == step {
			return ev, true
		}
	}
	return TraceEvent{}, false
}
