package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type dialect struct {
	name         string
	driverName   string
	insertIgnore string
	utcNow       string
}

var sqliteDialect = &dialect{
	name:         DriverSQLite,
	driverName:   "sqlite3",
	insertIgnore: "INSERT OR IGNORE INTO",
	utcNow:       "DATETIME('now')",
}

var mysqlDialect = &dialect{
	name:         DriverMySQL,
	driverName:   "mysql",
	insertIgnore: "INSERT IGNORE INTO",
	utcNow:       "UTC_TIMESTAMP()",
}

func dialectNamed(name string) (*dialect, error) {
	switch strings.ToLower(name) {
	case "", DriverSQLite, "sqlite3":
		return sqliteDialect, nil
	case DriverMySQL:
		return mysqlDialect, nil
	default:
		return nil, fmt.Errorf("metastore: unknown driver %q", name)
	}
}

type sqlBackend struct {
	db      *sql.DB
	dialect *dialect
}

// openSQLBackend connects using database/sql. For SQLite, dsn is a file path.
func openSQLBackend(dsn string, opt *Options) (*sqlBackend, error) {
	d, err := dialectNamed(opt.Driver)
	if err != nil {
		return nil, err
	}

	var connStr string
	switch d {
	case sqliteDialect:
		connStr = sqliteConnString(dsn, opt)
	case mysqlDialect:
		connStr, err = mysqlConnString(dsn)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("metastore: %w", err)
	}
	if opt.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opt.MaxOpenConns)
	}
	return &sqlBackend{db: db, dialect: d}, nil
}

func sqliteConnString(path string, opt *Options) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	busy := opt.BusyTimeout
	if busy == 0 {
		busy = 10 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(wal)")
	if opt.IsTesting {
		q.Add("_pragma", "synchronous(off)")
	} else {
		q.Add("_pragma", "synchronous(normal)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func mysqlConnString(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("metastore: invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	cfg.Params["time_zone"] = "'+00:00'"
	return cfg.FormatDSN(), nil
}

func (b *sqlBackend) Dialect() string      { return b.dialect.name }
func (b *sqlBackend) InsertIgnore() string { return b.dialect.insertIgnore }
func (b *sqlBackend) UTCTimestamp() string { return b.dialect.utcNow }

// DB exposes the underlying connection pool.
func (b *sqlBackend) DB() *sql.DB { return b.db }

func (b *sqlBackend) Exec(ctx context.Context, query string, params Params) (int64, error) {
	q, args, err := rebind(query, params)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *sqlBackend) ExecInsert(ctx context.Context, query string, params Params) (int64, int64, error) {
	q, args, err := rebind(query, params)
	if err != nil {
		return 0, 0, err
	}
	res, err := b.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	if affected == 0 {
		return 0, 0, nil
	}
	id, err := res.LastInsertId()
	return id, affected, err
}

func (b *sqlBackend) Scalar(ctx context.Context, query string, params Params, dest any) (bool, error) {
	q, args, err := rebind(query, params)
	if err != nil {
		return false, err
	}
	err = b.db.QueryRowContext(ctx, q, args...).Scan(dest)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (b *sqlBackend) Query(ctx context.Context, query string, params Params) (Rows, error) {
	q, args, err := rebind(query, params)
	if err != nil {
		return nil, err
	}
	return b.db.QueryContext(ctx, q, args...)
}

func (b *sqlBackend) Begin(ctx context.Context) (BackendTx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlBackendTx{tx}, nil
}

func (b *sqlBackend) Close() error {
	return b.db.Close()
}

type sqlBackendTx struct {
	tx *sql.Tx
}

func (t sqlBackendTx) Exec(ctx context.Context, query string, params Params) (int64, error) {
	q, args, err := rebind(query, params)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t sqlBackendTx) Commit() error { return t.tx.Commit() }

func (t sqlBackendTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// rebind turns @name placeholders into positional ? markers, which both SQLite
// and MySQL accept, and orders the arguments to match. Quoted strings and
// identifiers are copied verbatim.
func rebind(query string, params Params) (string, []any, error) {
	if strings.IndexByte(query, '@') < 0 {
		return query, nil, nil
	}
	var buf strings.Builder
	buf.Grow(len(query))
	var args []any
	n := len(query)
	for i := 0; i < n; {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < n && query[j] != c {
				j++
			}
			if j < n {
				j++
			}
			buf.WriteString(query[i:j])
			i = j
		case c == '@' && i+1 < n && isIdentStart(query[i+1]):
			j := i + 1
			for j < n && isIdentChar(query[j]) {
				j++
			}
			name := query[i+1 : j]
			v, ok := params[name]
			if !ok {
				v, ok = params["@"+name]
			}
			if !ok {
				return "", nil, fmt.Errorf("metastore: no value bound for @%s", name)
			}
			args = append(args, driverArg(v))
			buf.WriteByte('?')
			i = j
		default:
			buf.WriteByte(c)
			i++
		}
	}
	return buf.String(), args, nil
}

func driverArg(v any) any {
	switch v := v.(type) {
	case Value:
		return v.sqlArg()
	case TableID:
		return int64(v)
	case NameID:
		return int64(v)
	case ValueID:
		return int64(v)
	case ItemID:
		return int64(v)
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}
