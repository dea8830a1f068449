package lane

import (
	"github.com/roach88/lane/internal/engine"
	"github.com/roach88/lane/internal/querysql"
)

// Request describes one operation to submit. The implementations in this
// package are the only ones: GetRequest, InsertRequest, UpdateRequest,
// DeleteRequest, ExecRequest and QueryRequest.
type Request interface {
	// build assembles the statement. Errors here are returned to the caller
	// before anything is queued.
	build() (engine.Operation, error)
}

// GetRequest selects Fields (all columns when empty) from Table.
type GetRequest struct {
	Table  string
	Fields []string
	Where  Conditions
}

// InsertRequest adds one row to Table.
type InsertRequest struct {
	Table string
	Data  Values
}

// UpdateRequest sets Data on every row of Table matching Where.
// An empty Where updates every row.
type UpdateRequest struct {
	Table string
	Data  Values
	Where Conditions
}

// DeleteRequest removes every row of Table matching Where.
// An empty Where deletes every row.
type DeleteRequest struct {
	Table string
	Where Conditions
}

// ExecRequest runs a caller-written statement that returns no rows.
type ExecRequest struct {
	SQL  string
	Args []any
}

// QueryRequest runs a caller-written statement that returns rows.
type QueryRequest struct {
	SQL  string
	Args []any
}

func (r GetRequest) build() (engine.Operation, error) {
	stmt, err := querysql.Select(r.Table, r.Fields, r.Where)
	if err != nil {
		return nil, err
	}
	return engine.Select{Stmt: stmt}, nil
}

func (r InsertRequest) build() (engine.Operation, error) {
	stmt, err := querysql.Insert(r.Table, r.Data)
	if err != nil {
		return nil, err
	}
	return engine.Insert{Stmt: stmt}, nil
}

func (r UpdateRequest) build() (engine.Operation, error) {
	stmt, err := querysql.Update(r.Table, r.Data, r.Where)
	if err != nil {
		return nil, err
	}
	return engine.Update{Stmt: stmt}, nil
}

func (r DeleteRequest) build() (engine.Operation, error) {
	stmt, err := querysql.Delete(r.Table, r.Where)
	if err != nil {
		return nil, err
	}
	return engine.Delete{Stmt: stmt}, nil
}

func (r ExecRequest) build() (engine.Operation, error) {
	stmt, err := querysql.Raw(r.SQL, r.Args...)
	if err != nil {
		return nil, err
	}
	return engine.Exec{Stmt: stmt}, nil
}

func (r QueryRequest) build() (engine.Operation, error) {
	stmt, err := querysql.Raw(r.SQL, r.Args...)
	if err != nil {
		return nil, err
	}
	return engine.Select{Stmt: stmt}, nil
}
