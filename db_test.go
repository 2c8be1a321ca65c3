package metastore

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func TestDB(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{
		"foo":       Str("bar"),
		"something": Str("else"),
	}))
	deepEqual(t, must(db.Get(ctx, "blet", []Value{Str("monkey")})), []Record{
		{"foo": Str("bar"), "something": Str("else")},
	})

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{
		"foo":       Str("blet"),
		"something": Str("monkey"),
	}))
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{
		"foo": Str("blet"), "something": Str("monkey"),
	})
}

func TestDB_DefineLeavesUnmentionedAttrs(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar"), "n": Int(1)}))
	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"n": Int(2)}))
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar"), "n": Int(2)})
}

func TestDB_Erase(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar"), "something": Str("else")}))
	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Erase, "never": Erase}))

	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"something": Str("else")})

	// erasing an attribute that never existed does not create it
	_, found, err := db.LookupName(ctx, must2(db.LookupTable(ctx, "blet")).ID, "never")
	ensure(err)
	if found {
		t.Errorf("** erase created attribute never")
	}
	deepEqual(t, must(db.GetSchema(ctx, "blet")), Schema{"blet": {"foo", "something"}})

	itemID, _, err := db.GetRowID(ctx, "blet", Str("monkey"))
	ensure(err)
	data := must(db.ItemData(ctx, itemID))
	if len(data) != 1 {
		t.Errorf("** ItemData = %v, wanted one association", data)
	}
}

func TestDB_GetMissing(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	deepEqual(t, must(db.Get(ctx, "nope", []Value{Str("a"), Str("b")})), []Record{nil, nil})

	recs, err := db.Get(ctx, "no pe", []Value{Str("a")})
	var iie *InvalidIdentifierError
	if !errors.As(err, &iie) || recs != nil {
		t.Errorf("** Get with bad table = %v, %v; wanted nil and InvalidIdentifierError", recs, err)
	}

	ensure(db.Define(ctx, "blet", Str("monkey"), nil))
	recs = must(db.Get(ctx, "blet", []Value{Str("zebra"), Str("monkey"), Int(42)}))
	if len(recs) != 3 {
		t.Fatalf("** got %d records, wanted 3", len(recs))
	}
	isnil(t, recs[0])
	deepEqual(t, recs[1], Record{})
	isnil(t, recs[2])
}

func TestDB_NumericKeysAndValues(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "scores", Int(7), map[string]Value{"score": Num(9.5), "name": Str("seven")}))
	ensure(db.Define(ctx, "scores", Num(-0), map[string]Value{"score": Int(0)}))

	deepEqual(t, must(db.Get(ctx, "scores", []Value{Int(7), Int(0)})), []Record{
		{"score": Num(9.5), "name": Str("seven")},
		{"score": Int(0)},
	})
	deepEqual(t, must(db.GetRowValue(ctx, "scores", must2(db.GetRowID(ctx, "scores", Int(7))))), Int(7))
}

func TestDB_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")}))

	err := db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Int(42), "other": Str("x")})
	var mismatch *DataTypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("** Define = %v, wanted DataTypeMismatchError", err)
	}
	deepEqual(t, mismatch.Name, "foo")
	deepEqual(t, mismatch.Value, Int(42))
	deepEqual(t, mismatch.Recorded, KindString)

	// nothing from the failed call is visible, including the valid attribute
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar")})

	err = db.Define(ctx, "blet", Int(1), nil)
	if !errors.As(err, &mismatch) || mismatch.Name != "" || mismatch.Recorded != KindString {
		t.Fatalf("** Define with numeric key = %v, wanted table key DataTypeMismatchError", err)
	}
}

func TestDB_OversizedValues(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")}))

	// the cap counts characters, not bytes
	longest := strings.Repeat("é", MaxValueLen)
	ensure(db.Define(ctx, "blet", Str(longest), map[string]Value{"foo": Str(longest)}))
	deepEqual(t, must(db.GetOne(ctx, "blet", Str(longest))), Record{"foo": Str(longest)})

	var ove *OversizedValueError
	err := db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str(longest + "x")})
	if !errors.As(err, &ove) {
		t.Fatalf("** Define with long value = %v, wanted OversizedValueError", err)
	}
	deepEqual(t, *ove, OversizedValueError{Table: "blet", Name: "foo", Len: MaxValueLen + 1, Max: MaxValueLen})
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar")})

	err = db.Define(ctx, "blet", Str(longest+"x"), nil)
	if !errors.As(err, &ove) || ove.Table != "blet" || ove.Name != "" {
		t.Fatalf("** Define with long key = %v, wanted OversizedValueError for the key", err)
	}
	_, found := must2x(db.LookupValue(ctx, Str(longest+"x")))
	deepEqual(t, found, false)
	deepEqual(t, must(db.Stats(ctx)).Items, 2)
}

func TestDB_InvalidIdentifiers(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	for _, table := range []string{"", "1abc", "a-b", "x; DROP TABLE ms_items", strings.Repeat("a", 129)} {
		var iie *InvalidIdentifierError
		if err := db.Define(ctx, table, Str("k"), nil); !errors.As(err, &iie) {
			t.Errorf("** Define(%q) = %v, wanted InvalidIdentifierError", table, err)
		}
	}
	for _, attr := range []string{"id", "value", "VALUE", "a b", "x'"} {
		var iie *InvalidIdentifierError
		if err := db.Define(ctx, "blet", Str("k"), map[string]Value{attr: Str("v")}); !errors.As(err, &iie) {
			t.Errorf("** Define attr %q = %v, wanted InvalidIdentifierError", attr, err)
		}
	}
}

func TestDB_Delete(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")}))
	ensure(db.Define(ctx, "blet", Str("zebra"), map[string]Value{"foo": Str("baz")}))
	itemID := must2(db.GetRowID(ctx, "blet", Str("monkey")))
	ensure(db.PutLongString(ctx, itemID, "bio", "long"))

	ensure(db.Delete(ctx, "blet", []Value{Str("monkey"), Str("unknown"), Int(5)}))
	ensure(db.Delete(ctx, "no_such_table", []Value{Str("monkey")}))

	deepEqual(t, must(db.Get(ctx, "blet", []Value{Str("monkey"), Str("zebra")})), []Record{nil, {"foo": Str("baz")}})
	deepEqual(t, must(db.ItemData(ctx, itemID)), map[NameID]ValueID{})
	_, found := must2x(db.GetLongString(ctx, itemID, "bio"))
	if found {
		t.Errorf("** long string survived Delete")
	}

	// the key can be defined again
	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("again")}))
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("again")})
}

func TestDB_Drop(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar"), "something": Str("else")}))
	ensure(db.Define(ctx, "other", Str("monkey"), map[string]Value{"foo": Str("bar")}))
	deepEqual(t, must(db.GetSchema(ctx, "blet")), Schema{"blet": {"foo", "something"}})

	ensure(db.Drop(ctx, "blet"))
	ensure(db.Drop(ctx, "blet"))

	deepEqual(t, must(db.GetSchema(ctx, "blet")), Schema{})
	deepEqual(t, must(db.Get(ctx, "blet", []Value{Str("monkey")})), []Record{nil})
	deepEqual(t, must(db.GetOne(ctx, "other", Str("monkey"))), Record{"foo": Str("bar")})

	ss := must(db.Stats(ctx))
	deepEqual(t, ss.Tables, 1)
	deepEqual(t, ss.Names, 1)
	deepEqual(t, ss.Items, 1)
	deepEqual(t, ss.Associations, 1)

	// a dropped table may come back with the other key kind
	ensure(db.Define(ctx, "blet", Int(1), map[string]Value{"foo": Int(2)}))
	deepEqual(t, must(db.GetOne(ctx, "blet", Int(1))), Record{"foo": Int(2)})
}

func TestDB_Reset(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")}))
	ensure(db.Reset(ctx, false))

	deepEqual(t, must(db.Get(ctx, "blet", []Value{Str("monkey")})), []Record{nil})
	deepEqual(t, must(db.GetSchema(ctx, "")), Schema{"blet": {"foo"}})

	ensure(db.Reset(ctx, true))
	deepEqual(t, must(db.GetSchema(ctx, "")), Schema{})
	deepEqual(t, must(db.Stats(ctx)), StoreStats{})
	deepEqual(t, db.CacheStats(), CacheStats{})
}

func TestDB_Schema(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	must(db.CreateTable(ctx, "empty", true))
	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"zed": Str("z"), "alpha": Int(1)}))

	sch := must(db.GetSchema(ctx, ""))
	deepEqual(t, sch, Schema{"blet": {"alpha", "zed"}, "empty": {}})
	deepEqual(t, sch.Tables(), []string{"blet", "empty"})

	ti := must(db.CreateTable(ctx, "empty", true))
	deepEqual(t, ti.IsNumeric, true)
	if _, err := db.CreateTable(ctx, "empty", false); err == nil {
		t.Errorf("** CreateTable with the other kind succeeded")
	}
}

func TestDB_Registries(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	v1 := must(db.GetOrCreateValue(ctx, Str("x")))
	v2 := must(db.GetOrCreateValue(ctx, Str("x")))
	deepEqual(t, v1, v2)

	// the two kinds are separate interning spaces
	n1 := must(db.GetOrCreateValue(ctx, Num(1)))
	v, found, err := db.ValueByID(ctx, KindNumber, n1)
	ensure(err)
	if !found || v != Num(1) {
		t.Errorf("** ValueByID = %v, %v, wanted 1", v, found)
	}

	ti := must(db.GetOrCreateTable(ctx, "t", false))
	ni := must(db.GetOrCreateName(ctx, ti.ID, "a", true))
	deepEqual(t, must(db.GetOrCreateName(ctx, ti.ID, "a", true)), ni)

	// survive a cache flush
	db.InvalidateCaches()
	deepEqual(t, must2(db.LookupValue(ctx, Str("x"))), v1)
	deepEqual(t, must2(db.NameByID(ctx, ni.ID)), ni)
	deepEqual(t, must2(db.TableByID(ctx, ti.ID)), ti)

	item1 := must(db.GetOrCreateItem(ctx, ti.ID, v1))
	item2 := must(db.GetOrCreateItem(ctx, ti.ID, v1))
	deepEqual(t, item1, item2)
}

func TestDB_ClosedAndReopened(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metastore.db")

	db := must(Open(ctx, path, Options{IsTesting: true}))
	ensure(db.Define(ctx, "blet", Str("monkey"), map[string]Value{"foo": Str("bar")}))
	ensure(db.Close())
	ensure(db.Close())

	if err := db.Define(ctx, "blet", Str("monkey"), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("** Define after Close = %v, wanted ErrClosed", err)
	}

	db = must(Open(ctx, path, Options{IsTesting: true}))
	defer db.Close()
	deepEqual(t, must(db.GetOne(ctx, "blet", Str("monkey"))), Record{"foo": Str("bar")})
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in       any
		expected Value
	}{
		{nil, Erase},
		{"s", Str("s")},
		{42, Int(42)},
		{int64(-3), Int(-3)},
		{uint8(3), Int(3)},
		{1.5, Num(1.5)},
		{true, Int(1)},
		{Str("v"), Str("v")},
	}
	for _, tt := range tests {
		deepEqual(t, must(ParseValue(tt.in)), tt.expected)
	}
	if _, err := ParseValue(struct{}{}); err == nil {
		t.Errorf("** ParseValue(struct{}{}) succeeded")
	}
}

func TestValueFormatting(t *testing.T) {
	deepEqual(t, Str("1").GoString(), `"1"`)
	deepEqual(t, Int(1).GoString(), "1")
	deepEqual(t, Num(1.25).String(), "1.25")
	deepEqual(t, Erase.GoString(), "Erase")
	deepEqual(t, Num(-0), Int(0))
	deepEqual(t, Str("a").Interface(), any("a"))
	deepEqual(t, Erase.Interface(), nil)
}

func setup(t testing.TB) *DB {
	return setupWith(t, Options{})
}

func setupWith(t testing.TB, opt Options) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "metastore.db")
	t.Logf("DB: %s", path)

	opt.IsTesting = true
	db := must(Open(context.Background(), path, opt))
	t.Cleanup(func() {
		if n := db.OpenSessionCount(); n > 0 {
			t.Errorf("** %s", db.DescribeOpenSessions())
		}
		ensure(db.Close())
	})
	return db
}

func must2[T any](v T, found bool, err error) T {
	if err != nil {
		panic(err)
	}
	if !found {
		panic("not found")
	}
	return v
}

func must2x[T any](v T, found bool, err error) (T, bool) {
	if err != nil {
		panic(err)
	}
	return v, found
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[K comparable, V any, M ~map[K]V](t testing.TB, a M) {
	if a != nil {
		t.Helper()
		t.Errorf("** got %v, wanted nil", a)
	}
}
