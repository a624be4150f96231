// Package warehouse executes parameterized statements against the analytical
// warehouse and returns rows as ordered records.
package warehouse

import (
	"context"
	"errors"
)

// ErrQuery marks a statement that failed to execute (connection, syntax,
// permissions). It is never retried by readers.
var ErrQuery = errors.New("warehouse: query failed")

// Record is one row keyed by column name.
type Record map[string]any

// Result is the ordered row set of one statement.
type Result struct {
	Rows []Record
}

// RowCount returns the number of rows.
func (r Result) RowCount() int { return len(r.Rows) }

// Empty reports whether the statement matched no rows.
func (r Result) Empty() bool { return len(r.Rows) == 0 }

// Query is a named, parameterized statement. Name is used for logs and metrics.
type Query struct {
	Name      string
	Statement string
	Args      []any
}

// Querier runs read statements.
type Querier interface {
	Query(ctx context.Context, q Query) (Result, error)
}

// Execer runs write statements and reports affected rows.
type Execer interface {
	Exec(ctx context.Context, q Query) (int64, error)
}

// Store is the full warehouse surface used by the gateway.
type Store interface {
	Querier
	Execer
	Ping(ctx context.Context) error
}
