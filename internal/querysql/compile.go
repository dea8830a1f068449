package querysql

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/lane/internal/queryir"
)

var (
	// ErrNoTable reports a statement built without a table name.
	ErrNoTable = errors.New("table name is required")

	// ErrNoValues reports an INSERT or UPDATE with no columns.
	ErrNoValues = errors.New("at least one column value is required")

	// ErrNoSQL reports a raw statement with empty text.
	ErrNoSQL = errors.New("statement text is required")
)

// Statement is a parameterized SQL statement ready for execution.
type Statement struct {
	SQL  string
	Args []any
}

func (s Statement) String() string {
	return fmt.Sprintf("%s %v", s.SQL, s.Args)
}

// BuildError wraps a failure to assemble a statement.
type BuildError struct {
	Verb  string // "select", "insert", "update", "delete", "raw"
	Table string
	Err   error
}

func (e *BuildError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("build %s %s: %v", e.Verb, e.Table, e.Err)
	}
	return fmt.Sprintf("build %s: %v", e.Verb, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsBuildError reports whether err came from statement assembly.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// Select assembles SELECT <fields> FROM <table><where><order by>.
// The ORDER BY entry of conds, if any, becomes the ORDER BY clause.
func Select(table string, fields []string, conds queryir.Conditions) (Statement, error) {
	if table == "" {
		return Statement{}, &BuildError{Verb: "select", Err: ErrNoTable}
	}

	filters, orders, err := conds.Split()
	if err != nil {
		return Statement{}, &BuildError{Verb: "select", Table: table, Err: err}
	}
	where, args, err := Where(filters)
	if err != nil {
		return Statement{}, &BuildError{Verb: "select", Table: table, Err: err}
	}
	orderBy, err := OrderBy(orders)
	if err != nil {
		return Statement{}, &BuildError{Verb: "select", Table: table, Err: err}
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s%s",
		Fields(fields),
		table,
		clause(where),
		clause(orderBy))

	return Statement{SQL: sql, Args: args}, nil
}

// Insert assembles INSERT INTO <table> (<cols>) VALUES (?, ...).
func Insert(table string, values queryir.Values) (Statement, error) {
	if table == "" {
		return Statement{}, &BuildError{Verb: "insert", Err: ErrNoTable}
	}
	if len(values) == 0 {
		return Statement{}, &BuildError{Verb: "insert", Table: table, Err: ErrNoValues}
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(values.Names(), ", "),
		placeholders(len(values)))

	return Statement{SQL: sql, Args: values.Args()}, nil
}

// Update assembles UPDATE <table> SET <col = ?, ...><where>.
// Args are the new values followed by the condition values.
func Update(table string, values queryir.Values, conds queryir.Conditions) (Statement, error) {
	if table == "" {
		return Statement{}, &BuildError{Verb: "update", Err: ErrNoTable}
	}
	if len(values) == 0 {
		return Statement{}, &BuildError{Verb: "update", Table: table, Err: ErrNoValues}
	}

	where, condArgs, err := filtersOnly(conds)
	if err != nil {
		return Statement{}, &BuildError{Verb: "update", Table: table, Err: err}
	}

	sets := make([]string, len(values))
	for i, name := range values.Names() {
		sets[i] = name + " = ?"
	}

	sql := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), clause(where))

	args := append(values.Args(), condArgs...)
	return Statement{SQL: sql, Args: args}, nil
}

// Delete assembles DELETE FROM <table><where>.
// Empty conditions delete every row.
func Delete(table string, conds queryir.Conditions) (Statement, error) {
	if table == "" {
		return Statement{}, &BuildError{Verb: "delete", Err: ErrNoTable}
	}

	where, args, err := filtersOnly(conds)
	if err != nil {
		return Statement{}, &BuildError{Verb: "delete", Table: table, Err: err}
	}

	return Statement{SQL: "DELETE FROM " + table + clause(where), Args: args}, nil
}

// Raw wraps caller-written SQL.
func Raw(sql string, args ...any) (Statement, error) {
	if strings.TrimSpace(sql) == "" {
		return Statement{}, &BuildError{Verb: "raw", Err: ErrNoSQL}
	}
	return Statement{SQL: sql, Args: args}, nil
}

// Fields returns the SELECT column list: "*" when fields is empty, otherwise
// the names joined with ", " in the given order.
func Fields(fields []string) string {
	if len(fields) == 0 {
		return "*"
	}
	return strings.Join(fields, ", ")
}

// Where translates conditions into "WHERE ..." and the values to bind.
// Empty conditions give "" and nil.
//
// Keys are parsed with queryir.ParseKey. A slice value under IN or NOT IN
// (any case) expands to one placeholder per element; anything else binds a
// single placeholder. The operator text is emitted as written.
func Where(conds queryir.Conditions) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(conds))
	var args []any

	for _, c := range conds {
		f, err := queryir.ParseKey(c.Key)
		if err != nil {
			return "", nil, err
		}

		if elems, ok := sequence(c.Value); ok && isMembership(f.Operator) {
			parts = append(parts, fmt.Sprintf("%s %s (%s)", f.Column, f.Operator, placeholders(len(elems))))
			args = append(args, elems...)
			continue
		}

		parts = append(parts, fmt.Sprintf("%s %s ?", f.Column, f.Operator))
		args = append(args, c.Value)
	}

	return "WHERE " + strings.Join(parts, " AND "), args, nil
}

// OrderBy renders "ORDER BY col DIR, ..." with upper-cased directions.
// No orders give "". Directions other than asc/desc are rejected.
func OrderBy(orders []queryir.Order) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}

	upper := cases.Upper(language.Und)
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if strings.TrimSpace(o.Column) == "" {
			return "", fmt.Errorf("%w: empty column", queryir.ErrBadOrder)
		}
		dir := upper.String(strings.TrimSpace(o.Direction))
		if dir != queryir.DirAsc && dir != queryir.DirDesc {
			return "", fmt.Errorf("%w: direction %q for %s", queryir.ErrBadOrder, o.Direction, o.Column)
		}
		parts = append(parts, o.Column+" "+dir)
	}

	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// filtersOnly builds a WHERE clause for statements that cannot sort.
// An ORDER BY entry is dropped.
func filtersOnly(conds queryir.Conditions) (string, []any, error) {
	filters, _, err := conds.Split()
	if err != nil {
		return "", nil, err
	}
	return Where(filters)
}

func isMembership(op string) bool {
	folded := strings.Join(strings.Fields(cases.Upper(language.Und).String(op)), " ")
	return folded == "IN" || folded == "NOT IN"
}

// sequence reports whether v is a list of values and returns its elements.
// []byte is a single BLOB value, not a list.
func sequence(v any) ([]any, bool) {
	switch val := v.(type) {
	case nil, []byte, string:
		return nil, false
	case []any:
		return val, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func clause(s string) string {
	if s == "" {
		return ""
	}
	return " " + s
}
