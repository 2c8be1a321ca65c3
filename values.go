package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"
)

type ValueID int64

// MaxValueLen is the longest string, in characters, that can be a table key or
// an attribute value. Longer text belongs in a long string.
const MaxValueLen = 512

// EraseValueID in an item data map removes the association instead of
// storing it.
const EraseValueID ValueID = -1

type valueRef struct {
	kind Kind
	id   ValueID
}

type valueRegistry struct {
	db      *DB
	byValue *cache[Value, ValueID]
	byID    *cache[valueRef, Value]
}

func newValueRegistry(db *DB, shards int) *valueRegistry {
	return &valueRegistry{
		db:      db,
		byValue: newCache[Value, ValueID](shards, hashValue),
		byID: newCache[valueRef, Value](shards, func(r valueRef) uint64 {
			return hashInt(int64(r.id)<<1 | int64(r.kind&1))
		}),
	}
}

func valuesTableFor(k Kind) string {
	if k == KindNumber {
		return numericValuesTable
	}
	return stringValuesTable
}

func (r *valueRegistry) invalidate() {
	r.byValue.clear()
	r.byID.clear()
}

func (r *valueRegistry) remember(v Value, id ValueID) {
	r.byValue.put(v, id)
	r.byID.put(valueRef{v.kind, id}, v)
}

func (r *valueRegistry) lookup(ctx context.Context, v Value) (ValueID, bool, error) {
	if v.IsErase() {
		return 0, false, fmt.Errorf("metastore: cannot intern the erase marker")
	}
	if id, ok := r.byValue.get(v); ok {
		r.db.CacheHits.Add(1)
		return id, true, nil
	}
	r.db.CacheMisses.Add(1)

	sql := "SELECT id FROM " + valuesTableFor(v.kind) + " WHERE value = @value"
	var id ValueID
	found, err := r.db.scalar(ctx, "value.lookup", sql, Params{"value": v}, &id)
	if err != nil || !found {
		return 0, false, err
	}
	r.remember(v, id)
	return id, true, nil
}

func (r *valueRegistry) getOrCreate(ctx context.Context, v Value) (ValueID, error) {
	if v.kind == KindString {
		if n := utf8.RuneCountInString(v.s); n > MaxValueLen {
			return 0, &OversizedValueError{Len: n, Max: MaxValueLen}
		}
	}
	id, found, err := r.lookup(ctx, v)
	if err != nil {
		return 0, err
	} else if found {
		return id, nil
	}

	sql := r.db.backend.InsertIgnore() + " " + valuesTableFor(v.kind) + " (value) VALUES (@value)"
	newID, affected, err := r.db.insert(ctx, "value.create", sql, Params{"value": v})
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		id = ValueID(newID)
		r.remember(v, id)
		return id, nil
	}

	id, found, err = r.lookup(ctx, v)
	if err != nil {
		return 0, err
	} else if !found {
		return 0, fmt.Errorf("metastore: value %#v vanished while being created", v)
	}
	return id, nil
}

func (r *valueRegistry) byIDLookup(ctx context.Context, kind Kind, id ValueID) (Value, bool, error) {
	if v, ok := r.byID.get(valueRef{kind, id}); ok {
		r.db.CacheHits.Add(1)
		return v, true, nil
	}
	r.db.CacheMisses.Add(1)

	q := "SELECT value FROM " + valuesTableFor(kind) + " WHERE id = @id"
	var v Value
	var found bool
	var err error
	if kind == KindNumber {
		var n sql.NullFloat64
		found, err = r.db.scalar(ctx, "value.byid", q, Params{"id": id}, &n)
		v = Num(n.Float64)
	} else {
		var s sql.NullString
		found, err = r.db.scalar(ctx, "value.byid", q, Params{"id": id}, &s)
		v = Str(s.String)
	}
	if err != nil || !found {
		return Erase, false, err
	}
	r.remember(v, id)
	return v, true, nil
}

func (db *DB) GetOrCreateValue(ctx context.Context, v Value) (ValueID, error) {
	return db.values.getOrCreate(ctx, v)
}

func (db *DB) LookupValue(ctx context.Context, v Value) (ValueID, bool, error) {
	return db.values.lookup(ctx, v)
}

// ValueByID dereferences id in the interning space of the given kind.
func (db *DB) ValueByID(ctx context.Context, kind Kind, id ValueID) (Value, bool, error) {
	return db.values.byIDLookup(ctx, kind, id)
}
