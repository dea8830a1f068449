package store

// Row is one result row. Columns and Values are parallel and keep the order
// of the statement's result columns. All rows of one query share the same
// Columns slice.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column. If the statement produced the
// same name twice, the first occurrence wins.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a column name to value map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i := len(r.Columns) - 1; i >= 0; i-- {
		m[r.Columns[i]] = r.Values[i]
	}
	return m
}
