// Package querysql turns condition maps and column values into parameterized
// SQLite statements.
//
// Values are never interpolated into the statement text. Column names, table
// names and operators are, so they must come from the program, not from end
// users.
package querysql
