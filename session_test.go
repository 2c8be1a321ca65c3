package metastore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestSession_CloseWithPendingPanics(t *testing.T) {
	db := setup(t)

	s := db.NewSession()
	s.SetItemData(1, map[NameID]ValueID{1: 1, 2: EraseValueID})
	deepEqual(t, s.Pending(), 2)

	defer func() {
		e := recover()
		pe, ok := e.(*ProtocolError)
		if !ok {
			t.Fatalf("** recovered %v, wanted *ProtocolError", e)
		}
		deepEqual(t, pe.Pending, 2)
		deepEqual(t, pe.Session, s.ID())
		deepEqual(t, db.OpenSessionCount(), 0)
	}()
	s.Close()
}

func TestSession_CommitEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	s := db.NewSession()
	defer s.Close()
	ensure(s.Commit(ctx))
	deepEqual(t, db.CommitCount.Load(), uint64(0))
}

func TestSession_StagedWritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")}))
	ti := must2(db.LookupTable(ctx, "blet"))
	itemID := must2(db.GetRowID(ctx, "blet", Str("monkey")))
	ni := must(db.GetOrCreateName(ctx, ti.ID, "foo", false))
	vid := must(db.GetOrCreateValue(ctx, Str("staged")))

	s := db.NewSession()
	defer s.Close()
	s.SetItemData(itemID, map[NameID]ValueID{ni.ID: vid})
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar")})

	ensure(s.Commit(ctx))
	deepEqual(t, s.Pending(), 0)
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("staged")})
}

func TestSession_FailedCommitDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metastore.db")
	opt := Options{IsTesting: true}
	b := must(openSQLBackend(path, &opt))
	fb := &failingBackend{Backend: b, failAfter: -1}
	db := must(OpenBackend(ctx, fb, opt))
	defer db.Close()

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar"), "n": Int(1)}))

	// fail on the second statement of the batch, after the first one applied
	fb.failAfter = 1
	err := db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("baz"), "n": Int(2)})
	var be *BackendError
	if !errors.As(err, &be) || !errors.Is(err, errInjected) {
		t.Fatalf("** Define = %v, wanted BackendError wrapping the injected failure", err)
	}
	deepEqual(t, db.RollbackCount.Load(), uint64(1))

	fb.failAfter = -1
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar"), "n": Int(1)})

	// the next call starts from an empty buffer
	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"n": Int(3)}))
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar"), "n": Int(3)})
}

func TestSession_ChangeNotifications(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	s := db.NewSession()
	defer s.Close()

	var got []string
	s.OnChange(func(chg *Change) {
		got = append(got, chg.String())
	})

	ensure(s.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")}))
	ensure(s.Define(ctx, "nums", Int(5), nil))
	ensure(s.Delete(ctx, "blet", []Value{Str("monkey"), Str("absent")}))
	ensure(s.Drop(ctx, "nums"))
	ensure(s.Reset(ctx, false))

	// failed calls notify nothing
	if err := s.Define(ctx, "blet", Int(1), nil); err == nil {
		t.Fatalf("** Define with mismatched key succeeded")
	}

	deepEqual(t, got, []string{
		`put blet/"monkey"`,
		`put nums/5`,
		`delete blet/"monkey"`,
		`drop nums`,
		`reset`,
	})
}

func TestSession_ChangeHandlerMayWrite(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	s := db.NewSession()
	defer s.Close()

	var n int
	s.OnChange(func(chg *Change) {
		if chg.Op() == OpPut && chg.Table() == "blet" {
			n++
			ensure(s.Define(ctx, "audit", Int(int64(n)), map[string]Value{"key": chg.Key()}))
		}
	})
	ensure(s.Define(ctx, "blet", Str("monkey"), nil))

	deepEqual(t, must(db.GetOne(ctx, "audit", Int(1))), Record{"key": Str("monkey")})
}

func TestDB_Do(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	err := db.Do(func(s *Session) error {
		return s.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")})
	})
	ensure(err)

	err = db.Do(func(s *Session) error {
		s.SetItemData(1, map[NameID]ValueID{1: 1})
		return nil
	})
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Errorf("** Do with pending writes = %v, wanted ProtocolError", err)
	}

	err = db.Do(func(s *Session) error {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "panic: boom") {
		t.Errorf("** Do with panic = %v, wanted panic error", err)
	}

	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar")})
	deepEqual(t, db.OpenSessionCount(), 0)
}

func TestDB_DescribeOpenSessions(t *testing.T) {
	db := setup(t)
	deepEqual(t, db.DescribeOpenSessions(), "NO OPEN SESSIONS")

	s := db.NewSession()
	desc := db.DescribeOpenSessions()
	if !strings.HasPrefix(desc, "1 OPEN SESSIONS:") || !strings.Contains(desc, s.ID()) {
		t.Errorf("** DescribeOpenSessions = %q", desc)
	}
	s.Close()
	deepEqual(t, db.OpenSessionCount(), 0)
}

func TestConcurrentGetOrCreateConverges(t *testing.T) {
	ctx := context.Background()
	db := setup(t)
	const n = 16

	tables := make([]TableID, n)
	values := make([]ValueID, n)
	names := make([]NameID, n)
	items := make([]ItemID, n)

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			ti, err := db.GetOrCreateTable(ctx, "shared", false)
			if err != nil {
				return err
			}
			tables[i] = ti.ID
			if values[i], err = db.GetOrCreateValue(ctx, Str("shared-value")); err != nil {
				return err
			}
			ni, err := db.GetOrCreateName(ctx, ti.ID, "attr", true)
			if err != nil {
				return err
			}
			names[i] = ni.ID
			items[i], err = db.GetOrCreateItem(ctx, ti.ID, values[i])
			return err
		})
	}
	ensure(g.Wait())

	for i := 1; i < n; i++ {
		deepEqual(t, tables[i], tables[0])
		deepEqual(t, values[i], values[0])
		deepEqual(t, names[i], names[0])
		deepEqual(t, items[i], items[0])
	}
	ss := must(db.Stats(ctx))
	deepEqual(t, ss.Tables, 1)
	deepEqual(t, ss.StringValues, 1)
	deepEqual(t, ss.Names, 1)
	deepEqual(t, ss.Items, 1)
}

func TestGetOrCreateReselectsAfterSuppressedInsert(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metastore.db")
	opt := Options{IsTesting: true}
	mb := &missingBackend{Backend: must(openSQLBackend(path, &opt))}
	db := must(OpenBackend(ctx, mb, opt))
	defer db.Close()

	ti := must(db.GetOrCreateTable(ctx, "shared", false))
	vid := must(db.GetOrCreateValue(ctx, Str("shared-value")))
	ni := must(db.GetOrCreateName(ctx, ti.ID, "attr", false))
	itemID := must(db.GetOrCreateItem(ctx, ti.ID, vid))

	// each call below misses on its first lookup, so its insert is suppressed
	// by the existing row and the id must come from the re-select
	db.InvalidateCaches()
	mb.misses.Store(1)
	deepEqual(t, must(db.GetOrCreateTable(ctx, "shared", false)), ti)
	deepEqual(t, mb.misses.Load(), int32(0))

	db.InvalidateCaches()
	mb.misses.Store(1)
	deepEqual(t, must(db.GetOrCreateValue(ctx, Str("shared-value"))), vid)
	deepEqual(t, mb.misses.Load(), int32(0))

	db.InvalidateCaches()
	must2(db.TableByID(ctx, ti.ID))
	mb.misses.Store(1)
	deepEqual(t, must(db.GetOrCreateName(ctx, ti.ID, "attr", false)), ni)
	deepEqual(t, mb.misses.Load(), int32(0))

	mb.misses.Store(1)
	deepEqual(t, must(db.GetOrCreateItem(ctx, ti.ID, vid)), itemID)
	deepEqual(t, mb.misses.Load(), int32(0))

	ss := must(db.Stats(ctx))
	deepEqual(t, ss.Tables, 1)
	deepEqual(t, ss.StringValues, 1)
	deepEqual(t, ss.Names, 1)
	deepEqual(t, ss.Items, 1)
}

func TestConcurrentDefines(t *testing.T) {
	ctx := context.Background()
	db := setup(t)
	const n = 8

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			return db.Define(ctx, "people", Str(fmt.Sprintf("p%d", i)), map[string]Value{
				"age":  Int(int64(20 + i)),
				"team": Str("blue"),
			})
		})
	}
	ensure(g.Wait())

	recs := must(db.QueryGet(ctx, Query{From: "people", Where: "team = @team", Params: map[string]Value{"team": Str("blue")}}))
	deepEqual(t, len(recs), n)
	deepEqual(t, must(db.Stats(ctx)).Names, 2)
}

var errInjected = errors.New("injected failure")

// failingBackend fails the transaction statement numbered failAfter (zero
// based), counting from the start of each transaction.
type failingBackend struct {
	Backend
	failAfter int
}

func (b *failingBackend) Begin(ctx context.Context) (BackendTx, error) {
	tx, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{BackendTx: tx, failAfter: b.failAfter}, nil
}

type failingTx struct {
	BackendTx
	failAfter int
	n         atomic.Int32
}

func (tx *failingTx) Exec(ctx context.Context, sql string, params Params) (int64, error) {
	if tx.failAfter >= 0 && int(tx.n.Add(1))-1 == tx.failAfter {
		return 0, errInjected
	}
	return tx.BackendTx.Exec(ctx, sql, params)
}

// missingBackend makes the next misses lookups report no rows, as if another
// writer created the row right after the lookup ran.
type missingBackend struct {
	Backend
	misses atomic.Int32
}

func (b *missingBackend) miss() bool {
	for {
		n := b.misses.Load()
		if n <= 0 {
			return false
		}
		if b.misses.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (b *missingBackend) Scalar(ctx context.Context, sql string, params Params, dest any) (bool, error) {
	if b.miss() {
		return false, nil
	}
	return b.Backend.Scalar(ctx, sql, params, dest)
}

func (b *missingBackend) Query(ctx context.Context, sql string, params Params) (Rows, error) {
	if b.miss() {
		return emptyRows{}, nil
	}
	return b.Backend.Query(ctx, sql, params)
}

type emptyRows struct{}

func (emptyRows) Next() bool { return false }
func (emptyRows) Scan(...any) error { return errors.New("no rows") }
func (emptyRows) Err() error { return nil }
func (emptyRows) Close() error { return nil }
