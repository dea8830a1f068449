// Package harness runs YAML scripts of database operations through lane and
// records what the worker did.
//
// # Script Format
//
//	name: users_crud
//	description: "Insert, read back, update and delete a user"
//	setup:
//	  - CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT UNIQUE, age INTEGER)
//	steps:
//	  - name: add-alice
//	    op: insert
//	    table: users
//	    data: {username: alice, age: 34}
//	    expect: {rows_affected: 1}
//	  - op: update
//	    table: users
//	    mode: async
//	    data: {age: 35}
//	    where: {username: alice}
//	  - op: get
//	    table: users
//	    fields: [username, age]
//	    where:
//	      age[>]: 18
//	      ORDER BY: [{age: desc}]
//	    expect:
//	      rows: 1
//	      values: [{username: alice, age: 35}]
//	assertions:
//	  - type: final_state
//	    table: users
//	    where: {username: alice}
//	    expect: {age: 35}
//
// Steps are get, insert, update, delete (built from table, fields, data and
// where) or exec and query (raw sql and args). Mode is sync (the default) or
// async; async steps are not waited on, yet every step still runs in
// submission order.
//
// # Assertion Types
//
//   - row_count: rows of table matching where
//   - final_state: the single row matching where holds expect (subset)
//   - trace_order: named steps ran in this order
//   - trace_count: number of steps with the given op (and outcome)
//
// # Deterministic Runs
//
// Every run opens a fresh in-memory database and numbers operations
// "op-1", "op-2", ... in submission order, setup statements included, so a
// trace is the same on every run and can be compared with a golden file.
package harness
