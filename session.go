package metastore

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session owns the staged-write buffer of one caller. A session is not safe
// for concurrent use; open one per goroutine. Sessions are cheap.
//
// Every high-level write moves through the same phases:
//
// Resolving: identifiers are looked up or created in the registries. These
// inserts are durable immediately and never run inside a transaction, since
// a rollback would leave the in-memory caches pointing at rows that do not
// exist.
//
// Staging: association and row mutations are appended to the buffer.
//
// Committing: the buffer is flushed in a single backend transaction and
// cleared whether or not the flush succeeds.
//
// An error during Resolving or Staging discards the buffer, so nothing of the
// failed call becomes visible.
type Session struct {
	db        *DB
	id        string
	startTime time.Time
	stack     string

	staged      []stagedStmt
	pending     atomic.Int32
	afterCommit []func(ctx context.Context) error
	changes     []Change

	changeHandler func(chg *Change)
	closed        bool
}

type stagedStmt struct {
	sql    string
	params Params
}

func (db *DB) NewSession() *Session {
	s := &Session{
		db:        db,
		id:        uuid.NewString(),
		startTime: time.Now(),
	}
	if trackSessions {
		s.stack = string(debug.Stack())
		db.addSession(s)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) DB() *DB {
	return s.db
}

// OnChange registers a handler called once per change after each successful
// commit.
func (s *Session) OnChange(f func(chg *Change)) {
	s.changeHandler = f
}

// Pending returns the number of staged statements.
func (s *Session) Pending() int {
	return int(s.pending.Load())
}

func (s *Session) stage(sql string, params Params) {
	if s.staged == nil {
		s.staged = stagedPool.Get().([]stagedStmt)
	}
	s.staged = append(s.staged, stagedStmt{sql, params})
	s.pending.Add(1)
}

func (s *Session) onCommit(f func(ctx context.Context) error) {
	s.afterCommit = append(s.afterCommit, f)
}

func (s *Session) noteChange(chg Change) {
	s.changes = append(s.changes, chg)
}

// Discard drops everything staged since the last commit.
func (s *Session) Discard() {
	if s.staged != nil {
		releaseStaged(s.staged)
		s.staged = nil
	}
	s.pending.Store(0)
	s.afterCommit = nil
	s.changes = nil
}

// Commit flushes the staged statements as one all-or-nothing unit. The buffer
// is cleared in both the success and the failure case.
func (s *Session) Commit(ctx context.Context) (err error) {
	if s.closed {
		panic(&ProtocolError{s.id, s.Pending(), "commit on a closed session"})
	}
	if err := s.db.checkOpen(); err != nil {
		s.Discard()
		return err
	}

	// Detach the buffer first so that change handlers may stage new writes.
	staged, hooks, changes := s.staged, s.afterCommit, s.changes
	s.staged, s.afterCommit, s.changes = nil, nil, nil
	s.pending.Store(0)
	if staged != nil {
		defer releaseStaged(staged)
	}

	if len(staged) == 0 {
		s.db.logVerbose(ctx, "metastore: COMMIT.NOOP", slog.String("session", s.id))
		return nil
	}

	tx, err := s.db.backend.Begin(ctx)
	if err != nil {
		return backendErr("begin", "", err)
	}
	defer func() {
		if err != nil {
			s.db.RollbackCount.Add(1)
			if rerr := tx.Rollback(); rerr != nil {
				s.db.logger.LogAttrs(ctx, slog.LevelWarn, "metastore: rollback failed", slog.String("session", s.id), slog.Any("err", rerr))
			}
		}
	}()

	for _, st := range staged {
		s.db.WriteCount.Add(1)
		if _, err = tx.Exec(ctx, st.sql, st.params); err != nil {
			return backendErr("commit", st.sql, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return backendErr("commit", "", err)
	}
	s.db.CommitCount.Add(1)
	s.db.logVerbose(ctx, "metastore: COMMIT", slog.String("session", s.id), slog.Int("statements", len(staged)))

	// The batch is durable; hooks only tidy satellite stores, so their
	// failures are logged rather than reported as a failed commit.
	for _, f := range hooks {
		if herr := f(ctx); herr != nil {
			s.db.logger.LogAttrs(ctx, slog.LevelError, "metastore: post-commit hook failed", slog.String("session", s.id), slog.Any("err", herr))
		}
	}
	if s.changeHandler != nil {
		for i := range changes {
			s.changeHandler(&changes[i])
		}
	}
	return nil
}

// Close ends the session. Closing with staged statements still pending is a
// programming error and panics with *ProtocolError.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if trackSessions {
		s.db.removeSession(s)
	}
	if n := s.Pending(); n > 0 {
		s.Discard()
		panic(&ProtocolError{s.id, n, "closed with uncommitted staged writes; call Commit first"})
	}
}

// Do runs f in a fresh session. Panics inside f become errors, and whatever f
// staged but did not commit is discarded when it fails.
func (db *DB) Do(f func(s *Session) error) error {
	s := db.NewSession()
	defer s.Close()
	err := safelyCall(f, s)
	if err != nil {
		s.Discard()
		return err
	}
	if n := s.Pending(); n > 0 {
		s.Discard()
		return &ProtocolError{s.id, n, "function returned with uncommitted staged writes"}
	}
	return nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Session) error, s *Session) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(s)
}

// withSession is the one-shot form used by the DB convenience methods.
func withSession[T any](db *DB, f func(s *Session) (T, error)) (T, error) {
	s := db.NewSession()
	defer s.Close()
	return f(s)
}
