// Package queryir defines the caller-facing description of a filtered
// statement: ordered condition maps, ordered column values, and sort orders.
//
// A condition map is an ordered list of key/value pairs. A key is either a
// bare column name, which compares with "=", or "column[OP]" where OP is
// inserted into the statement verbatim:
//
//	queryir.Where(
//	    "age[>]", 18,
//	    "status[IN]", []string{"active", "pending"},
//	    queryir.OrderByKey, []queryir.Order{queryir.Desc("age")},
//	)
//
// The reserved key "ORDER BY" is not a condition. Split removes it and
// returns the sort orders separately.
//
// Order matters: the generated WHERE clause and its bound values follow the
// order of the pairs, so Go maps are only accepted through FromMap and
// ValuesFromMap, which sort keys first. ParseYAML keeps document order.
package queryir
