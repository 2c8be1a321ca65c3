package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const trackSessions = true

type DB struct {
	backend     Backend
	dsnKey      string
	logger      *slog.Logger
	verbose     bool
	strict      bool
	hydrateConc int

	tables      *tableRegistry
	names       *nameRegistry
	values      *valueRegistry
	longStrings longStringStore

	ReadCount     atomic.Uint64
	WriteCount    atomic.Uint64
	CommitCount   atomic.Uint64
	RollbackCount atomic.Uint64
	CacheHits     atomic.Uint64
	CacheMisses   atomic.Uint64

	closed atomic.Bool

	sessions     []*Session
	sessionsLock sync.Mutex
}

type Options struct {
	// Driver is DriverSQLite (default) or DriverMySQL.
	Driver string

	Logger  *slog.Logger
	Verbose bool

	// IsTesting trades durability for speed.
	IsTesting bool

	// BusyTimeout bounds how long SQLite waits on a locked database. Defaults
	// to 10 seconds.
	BusyTimeout time.Duration

	MaxOpenConns int

	// CacheShards is the number of lock shards per identifier cache.
	CacheShards int

	// HydrateConcurrency bounds parallel attribute hydration in QueryGet.
	// Defaults to 4.
	HydrateConcurrency int

	// LongStringsPath, when set, keeps long strings in a Bolt file at this
	// path instead of the SQL backend.
	LongStringsPath string
}

// Open connects to the store at dsn (a file path for SQLite, a go-sql-driver
// DSN for MySQL) and creates the schema on first use.
func Open(ctx context.Context, dsn string, opt Options) (*DB, error) {
	b, err := openSQLBackend(dsn, &opt)
	if err != nil {
		return nil, err
	}
	db, err := open(ctx, b, b.Dialect()+":"+dsn, opt)
	if err != nil {
		b.Close()
		return nil, err
	}
	return db, nil
}

// OpenBackend wraps an already connected backend. The schema DDL is run
// unconditionally; it is idempotent.
func OpenBackend(ctx context.Context, b Backend, opt Options) (*DB, error) {
	return open(ctx, b, "", opt)
}

func open(ctx context.Context, b Backend, dsnKey string, opt Options) (*DB, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.HydrateConcurrency <= 0 {
		opt.HydrateConcurrency = 4
	}

	err := bootstrap(ctx, b, dsnKey)
	if err != nil {
		return nil, err
	}

	db := &DB{
		backend:     b,
		dsnKey:      dsnKey,
		logger:      opt.Logger,
		verbose:     opt.Verbose,
		strict:      opt.IsTesting,
		hydrateConc: opt.HydrateConcurrency,
	}
	db.tables = newTableRegistry(db, opt.CacheShards)
	db.names = newNameRegistry(db, opt.CacheShards)
	db.values = newValueRegistry(db, opt.CacheShards)

	if opt.LongStringsPath != "" {
		db.longStrings, err = openBoltLongStrings(db, opt.LongStringsPath, opt.IsTesting)
		if err != nil {
			return nil, err
		}
	} else {
		db.longStrings = sqlLongStrings{db}
	}
	return db, nil
}

func (db *DB) Backend() Backend {
	return db.backend
}

func (db *DB) Logger() *slog.Logger {
	return db.logger
}

func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	forgetBootstrap(db.dsnKey)
	err1 := db.longStrings.close()
	err2 := db.backend.Close()
	return errors.Join(err1, err2)
}

// InvalidateCaches forgets every cached identifier. The store stays intact.
func (db *DB) InvalidateCaches() {
	db.tables.invalidate()
	db.names.invalidate()
	db.values.invalidate()
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (db *DB) exec(ctx context.Context, op, sql string, params Params) (int64, error) {
	db.WriteCount.Add(1)
	n, err := db.backend.Exec(ctx, sql, params)
	return n, backendErr(op, sql, err)
}

func (db *DB) insert(ctx context.Context, op, sql string, params Params) (int64, int64, error) {
	db.WriteCount.Add(1)
	id, affected, err := db.backend.ExecInsert(ctx, sql, params)
	return id, affected, backendErr(op, sql, err)
}

func (db *DB) scalar(ctx context.Context, op, sql string, params Params, dest any) (bool, error) {
	db.ReadCount.Add(1)
	found, err := db.backend.Scalar(ctx, sql, params, dest)
	return found, backendErr(op, sql, err)
}

func (db *DB) query(ctx context.Context, op, sql string, params Params) (Rows, error) {
	db.ReadCount.Add(1)
	rows, err := db.backend.Query(ctx, sql, params)
	return rows, backendErr(op, sql, err)
}

// queryIDs runs a single-column integer query.
func (db *DB) queryIDs(ctx context.Context, op, sql string, params Params) ([]int64, error) {
	rows, err := db.query(ctx, op, sql, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, backendErr(op, sql, err)
		}
		ids = append(ids, id)
	}
	return ids, backendErr(op, sql, rows.Err())
}

func (db *DB) logVerbose(ctx context.Context, msg string, attrs ...slog.Attr) {
	if db.verbose {
		db.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
	}
}

func (db *DB) addSession(s *Session) {
	db.sessionsLock.Lock()
	defer db.sessionsLock.Unlock()
	db.sessions = append(db.sessions, s)
}

func (db *DB) removeSession(s *Session) {
	db.sessionsLock.Lock()
	defer db.sessionsLock.Unlock()

	found := slices.Index(db.sessions, s)
	if found < 0 {
		panic("session not found in list")
	}

	n := len(db.sessions)
	db.sessions[found] = db.sessions[n-1]
	db.sessions[n-1] = nil
	db.sessions = db.sessions[:n-1]
}

func (db *DB) OpenSessionCount() int {
	db.sessionsLock.Lock()
	defer db.sessionsLock.Unlock()
	return len(db.sessions)
}

func (db *DB) DescribeOpenSessions() string {
	if !trackSessions {
		return "OPEN SESSION TRACKING DISABLED"
	}

	db.sessionsLock.Lock()
	sessions := slices.Clone(db.sessions)
	db.sessionsLock.Unlock()

	if len(sessions) == 0 {
		return "NO OPEN SESSIONS"
	}

	slices.SortFunc(sessions, func(a, b *Session) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN SESSIONS:\n", len(sessions))
	for _, s := range sessions {
		ms := now.Sub(s.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms, %d staged\n", s.id, ms, s.Pending())
		} else {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms, %d staged:\n%s", s.id, ms, s.Pending(), s.stack)
		}
	}

	return buf.String()
}
