package metastore

import "context"

// Params binds @name placeholders. Values may be Value, string, float64 or any
// integer type (including the ID types).
type Params map[string]any

// Backend is the relational store underneath the registries. Statements use
// @name placeholders; implementations rebind them for their driver.
type Backend interface {
	// Dialect names the SQL flavor, e.g. "sqlite" or "mysql".
	Dialect() string

	// InsertIgnore returns the "insert if absent" statement prefix, e.g.
	// "INSERT OR IGNORE INTO". A suppressed insert must affect zero rows.
	InsertIgnore() string

	// UTCTimestamp returns an SQL expression for the current UTC time.
	UTCTimestamp() string

	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, sql string, params Params) (int64, error)

	// ExecInsert runs an insert and returns the last inserted id and the number
	// of affected rows. The id is meaningless when affected is zero.
	ExecInsert(ctx context.Context, sql string, params Params) (id int64, affected int64, err error)

	// Scalar scans the first column of the first row into dest. Returns false
	// if the query produced no rows.
	Scalar(ctx context.Context, sql string, params Params, dest any) (bool, error)

	// Query returns a cursor over the result rows.
	Query(ctx context.Context, sql string, params Params) (Rows, error)

	// Begin starts a transaction. Registries never use transactions; only the
	// staged-write flush does.
	Begin(ctx context.Context) (BackendTx, error)

	Close() error
}

// BackendTx is an all-or-nothing batch of statements.
type BackendTx interface {
	Exec(ctx context.Context, sql string, params Params) (int64, error)
	Commit() error
	// Rollback aborts the transaction. It must be safe to call after Commit.
	Rollback() error
}

// Rows is satisfied by *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}
