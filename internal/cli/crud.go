package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lane"
	"github.com/roach88/lane/internal/config"
	"github.com/roach88/lane/internal/queryir"
	"github.com/roach88/lane/internal/querysql"
)

// Error codes reported by the statement commands.
const (
	CodeBadInput        = "E001" // unparsable flag value or statement that cannot be built
	CodeStatementFailed = "E002" // statement failed on the database
)

// WriteResult is the JSON payload of insert, update, delete and exec.
type WriteResult struct {
	LastInsertID int64 `json:"last_insert_id"`
	RowsAffected int64 `json:"rows_affected"`
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	var (
		fields []string
		where  string
	)

	cmd := &cobra.Command{
		Use:   "get <table>",
		Short: "Select rows from a table",
		Long: `Select rows from a table. Conditions are a YAML or JSON mapping whose keys
are "column" (equality) or "column[OP]", plus an optional ORDER BY list.

Example:
  lane get users --fields id,username --where '{age[>]: 18, ORDER BY: [{age: desc}]}'
  lane get users --where 'status[IN]: [active, pending]' --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, opts)
			conds, err := parseConditions(f, where)
			if err != nil {
				return err
			}

			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer closeDB(db)

			rows, err := db.Get(cmdContext(cmd), args[0], fields, conds)
			if err != nil {
				return statementError(f, err)
			}
			return f.Rows(rows)
		},
	}

	cmd.Flags().StringSliceVar(&fields, "fields", nil, "columns to select (default: all)")
	cmd.Flags().StringVar(&where, "where", "", "conditions as a YAML/JSON mapping")

	return cmd
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(opts *RootOptions) *cobra.Command {
	var (
		data  string
		async bool
	)

	cmd := &cobra.Command{
		Use:   "insert <table>",
		Short: "Insert a row",
		Long: `Insert one row. Column values are a YAML or JSON mapping.

Example:
  lane insert users --data '{username: alice, email: alice@example.com}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, opts)
			values, err := parseValues(f, data)
			if err != nil {
				return err
			}

			return runWrite(cmd, opts, async, lane.InsertRequest{Table: args[0], Data: values})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "column values as a YAML/JSON mapping (required)")
	cmd.Flags().BoolVar(&async, "async", false, "submit without waiting; the result is reported from the callback")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	var (
		data  string
		where string
		all   bool
		async bool
	)

	cmd := &cobra.Command{
		Use:   "update <table>",
		Short: "Update rows",
		Long: `Set column values on every row matching --where.
Without --where, --all is required.

Example:
  lane update users --data '{status: active}' --where '{username: alice}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, opts)
			values, err := parseValues(f, data)
			if err != nil {
				return err
			}
			conds, err := parseConditions(f, where)
			if err != nil {
				return err
			}
			if err := requireScope(f, conds, all); err != nil {
				return err
			}

			return runWrite(cmd, opts, async, lane.UpdateRequest{Table: args[0], Data: values, Where: conds})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "column values as a YAML/JSON mapping (required)")
	cmd.Flags().StringVar(&where, "where", "", "conditions as a YAML/JSON mapping")
	cmd.Flags().BoolVar(&all, "all", false, "allow updating every row")
	cmd.Flags().BoolVar(&async, "async", false, "submit without waiting; the result is reported from the callback")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	var (
		where string
		all   bool
		async bool
	)

	cmd := &cobra.Command{
		Use:   "delete <table>",
		Short: "Delete rows",
		Long: `Delete every row matching --where. Without --where, --all is required.

Example:
  lane delete users --where '{age[<]: 13}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, opts)
			conds, err := parseConditions(f, where)
			if err != nil {
				return err
			}
			if err := requireScope(f, conds, all); err != nil {
				return err
			}

			return runWrite(cmd, opts, async, lane.DeleteRequest{Table: args[0], Where: conds})
		},
	}

	cmd.Flags().StringVar(&where, "where", "", "conditions as a YAML/JSON mapping")
	cmd.Flags().BoolVar(&all, "all", false, "allow deleting every row")
	cmd.Flags().BoolVar(&async, "async", false, "submit without waiting; the result is reported from the callback")

	return cmd
}

// NewExecCommand creates the exec command.
func NewExecCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <sql> [args...]",
		Short: "Run a statement that returns no rows",
		Long: `Run a raw statement, such as DDL. Each argument binds one ? placeholder and
is read as a YAML scalar, so 18 is an integer and "18" a string.

Example:
  lane exec 'CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT)'
  lane exec 'UPDATE users SET age = age + ? WHERE id = ?' 1 7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, opts)
			bound, err := parseArgs(f, args[1:])
			if err != nil {
				return err
			}

			return runWrite(cmd, opts, false, lane.ExecRequest{SQL: args[0], Args: bound})
		},
	}

	return cmd
}

// NewQueryCommand creates the query command.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run a statement that returns rows",
		Long: `Run a raw SELECT (or PRAGMA) and print its rows. Arguments bind placeholders
as for exec.

Example:
  lane query 'SELECT status, COUNT(*) FROM users GROUP BY status'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, opts)
			bound, err := parseArgs(f, args[1:])
			if err != nil {
				return err
			}

			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer closeDB(db)

			rows, err := db.Query(cmdContext(cmd), args[0], bound...)
			if err != nil {
				return statementError(f, err)
			}
			return f.Rows(rows)
		},
	}

	return cmd
}

// runWrite submits a request that returns counts and reports the outcome.
// With async set the request is queued with a callback and the outcome is
// reported once Close has drained the queue.
func runWrite(cmd *cobra.Command, opts *RootOptions, async bool, req lane.Request) error {
	f := formatter(cmd, opts)

	db, err := openDB(opts)
	if err != nil {
		return err
	}

	var (
		res    lane.Result
		runErr error
	)
	if async {
		// Close drains the queue, so the callback has run once it returns.
		_, err := db.SubmitAsync(req, func(r lane.Result, err error) {
			res, runErr = r, err
		})
		f.VerboseLog("submitted asynchronously, pending=%d", db.Stats().Pending)
		closeDB(db)
		if err != nil {
			runErr = err
		}
	} else {
		res, runErr = db.SubmitSync(cmdContext(cmd), req, nil)
		closeDB(db)
	}

	if runErr != nil {
		return statementError(f, runErr)
	}

	out := WriteResult{LastInsertID: res.LastInsertID, RowsAffected: res.RowsAffected}
	if f.Format == config.FormatJSON {
		return f.Success(out)
	}
	switch req.(type) {
	case lane.InsertRequest:
		return f.Success(fmt.Sprintf("inserted row %d", out.LastInsertID))
	default:
		return f.Success(fmt.Sprintf("%d rows affected", out.RowsAffected))
	}
}

// statementError reports a failed statement and converts it to an exit
// error. Build errors are the caller's input; anything else is the database.
func statementError(f *OutputFormatter, err error) error {
	if querysql.IsBuildError(err) {
		_ = f.Error(CodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid statement", err)
	}
	_ = f.Error(CodeStatementFailed, err.Error(), nil)
	return WrapExitError(ExitFailure, "statement failed", err)
}

func parseConditions(f *OutputFormatter, doc string) (lane.Conditions, error) {
	conds, err := queryir.ParseYAML([]byte(doc))
	if err != nil {
		_ = f.Error(CodeBadInput, err.Error(), map[string]string{"flag": "where"})
		return nil, WrapExitError(ExitCommandError, "invalid --where", err)
	}
	return conds, nil
}

func parseValues(f *OutputFormatter, doc string) (lane.Values, error) {
	values, err := queryir.ParseValuesYAML([]byte(doc))
	if err != nil {
		_ = f.Error(CodeBadInput, err.Error(), map[string]string{"flag": "data"})
		return nil, WrapExitError(ExitCommandError, "invalid --data", err)
	}
	return values, nil
}

// parseArgs reads each argument as a YAML scalar.
func parseArgs(f *OutputFormatter, args []string) ([]any, error) {
	bound := make([]any, len(args))
	for i, arg := range args {
		var v any
		if err := yaml.Unmarshal([]byte(arg), &v); err != nil {
			_ = f.Error(CodeBadInput, err.Error(), map[string]int{"arg": i + 1})
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid argument %d", i+1), err)
		}
		switch v.(type) {
		case map[string]any, []any:
			// Not a scalar: bind the text as written.
			v = arg
		}
		bound[i] = v
	}
	return bound, nil
}

// requireScope refuses an unconditional update or delete unless all is set.
func requireScope(f *OutputFormatter, conds lane.Conditions, all bool) error {
	filters, _, err := conds.Split()
	if err != nil {
		_ = f.Error(CodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --where", err)
	}
	if len(filters) == 0 && !all {
		msg := "refusing to touch every row without --all"
		_ = f.Error(CodeBadInput, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
