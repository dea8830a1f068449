// Package lane gives any number of goroutines serialized access to one
// embedded SQLite connection.
//
// Every statement goes through a single worker goroutine that owns the
// connection. Callers either submit and move on (optionally with a callback)
// or block until their statement has run:
//
//	db, err := lane.Open("app.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	id, err := db.Insert(ctx, "users", lane.Set("username", "a", "email", "a@x"))
//	rows, err := db.Get(ctx, "users", nil, lane.Where("username", "a"))
//
//	db.InsertAsync("events", lane.Set("kind", "login"), func(id int64, err error) {
//	    // runs on the worker goroutine
//	})
//
// # Condition Maps
//
// Conditions are an ordered list of key/value pairs. A key is a column name
// (meaning =) or "column[OP]" with the operator written verbatim:
//
//	lane.Where(
//	    "age[>]", 18,
//	    "status[IN]", []string{"active", "pending"},
//	    lane.OrderBy, []lane.Order{lane.Desc("age")},
//	)
//
// gives WHERE age > ? AND status IN (?, ?) ORDER BY age DESC.
//
// # Ordering and Errors
//
// Operations run one at a time in submission order, synchronous and
// asynchronous alike. A statement that cannot be built is rejected before it
// is queued. A statement that fails on the connection is logged, handed to
// its callback and returned to a synchronous caller; it never stops the
// worker.
//
// Close drains everything already submitted, then releases the connection.
package lane
