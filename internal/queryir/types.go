package queryir

import (
	"fmt"
	"sort"
)

// OrderByKey is the reserved condition key holding sort orders.
const OrderByKey = "ORDER BY"

// Sort directions accepted in an Order.
const (
	DirAsc  = "ASC"
	DirDesc = "DESC"
)

// Cond is one entry of a condition map.
//
// Key is "column" or "column[OP]". Value is a scalar, or a slice when OP is
// IN or NOT IN.
type Cond struct {
	Key   string
	Value any
}

// Conditions is an ordered condition map.
// A nil or empty Conditions matches every row.
type Conditions []Cond

// Where builds Conditions from alternating key/value arguments.
//
// Panics if kv has odd length or a key is not a string. Both are programming
// errors in a literal at the call site.
func Where(kv ...any) Conditions {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("queryir.Where: odd number of arguments (%d)", len(kv)))
	}
	conds := make(Conditions, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("queryir.Where: key at position %d is %T, not string", i, kv[i]))
		}
		conds = append(conds, Cond{Key: key, Value: kv[i+1]})
	}
	return conds
}

// FromMap builds Conditions from a Go map. Keys are sorted so the generated
// clause is deterministic.
func FromMap(m map[string]any) Conditions {
	if len(m) == 0 {
		return nil
	}
	conds := make(Conditions, 0, len(m))
	for _, key := range sortedKeys(m) {
		conds = append(conds, Cond{Key: key, Value: m[key]})
	}
	return conds
}

// Split separates the reserved ORDER BY entry from the filter conditions.
// The receiver is not modified.
//
// Returns an error if ORDER BY appears more than once or holds a value that
// is not a sequence of {column: direction} entries.
func (c Conditions) Split() (Conditions, []Order, error) {
	var (
		filters Conditions
		orders  []Order
		seen    bool
	)
	for _, cond := range c {
		if cond.Key != OrderByKey {
			filters = append(filters, cond)
			continue
		}
		if seen {
			return nil, nil, fmt.Errorf("%w: %s given twice", ErrBadOrder, OrderByKey)
		}
		seen = true
		parsed, err := toOrders(cond.Value)
		if err != nil {
			return nil, nil, err
		}
		orders = parsed
	}
	return filters, orders, nil
}

// Order is one ORDER BY term.
type Order struct {
	Column    string
	Direction string // "asc" or "desc", any case
}

// Asc returns an ascending Order on column.
func Asc(column string) Order { return Order{Column: column, Direction: DirAsc} }

// Desc returns a descending Order on column.
func Desc(column string) Order { return Order{Column: column, Direction: DirDesc} }

// Column is one column assignment for INSERT or UPDATE.
type Column struct {
	Name  string
	Value any
}

// Values is an ordered set of column assignments.
type Values []Column

// Set builds Values from alternating name/value arguments.
// Panics under the same conditions as Where.
func Set(kv ...any) Values {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("queryir.Set: odd number of arguments (%d)", len(kv)))
	}
	vals := make(Values, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("queryir.Set: name at position %d is %T, not string", i, kv[i]))
		}
		vals = append(vals, Column{Name: name, Value: kv[i+1]})
	}
	return vals
}

// ValuesFromMap builds Values from a Go map with sorted column names.
func ValuesFromMap(m map[string]any) Values {
	if len(m) == 0 {
		return nil
	}
	vals := make(Values, 0, len(m))
	for _, name := range sortedKeys(m) {
		vals = append(vals, Column{Name: name, Value: m[name]})
	}
	return vals
}

// Names returns the column names in order.
func (v Values) Names() []string {
	names := make([]string, len(v))
	for i, col := range v {
		names[i] = col.Name
	}
	return names
}

// Args returns the column values in order.
func (v Values) Args() []any {
	args := make([]any, len(v))
	for i, col := range v {
		args[i] = col.Value
	}
	return args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
