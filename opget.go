package metastore

import (
	"context"
	"fmt"
)

// Get returns one Record per key, in order. Keys that do not exist, including
// every key of a table that does not exist, yield a nil Record.
func (s *Session) Get(ctx context.Context, table string, keys []Value) ([]Record, error) {
	db := s.db
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	result := make([]Record, len(keys))
	ti, found, err := db.tables.lookup(ctx, table)
	if err != nil {
		return nil, err
	} else if !found {
		return result, nil
	}

	for i, key := range keys {
		itemID, found, err := db.findItem(ctx, ti, key)
		if err != nil {
			return nil, err
		} else if !found {
			continue
		}
		result[i], err = db.itemRecord(ctx, itemID)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// findItem resolves a key without creating anything.
func (db *DB) findItem(ctx context.Context, ti TableInfo, key Value) (ItemID, bool, error) {
	if key.IsErase() || key.Kind() != ti.KeyKind() {
		return 0, false, nil
	}
	keyID, found, err := db.values.lookup(ctx, key)
	if err != nil || !found {
		return 0, false, err
	}
	return db.LookupItem(ctx, ti.ID, keyID)
}

// GetRowID returns the id of the item keyed by key.
func (s *Session) GetRowID(ctx context.Context, table string, key Value) (ItemID, bool, error) {
	ti, found, err := s.db.tables.lookup(ctx, table)
	if err != nil || !found {
		return 0, false, err
	}
	return s.db.findItem(ctx, ti, key)
}

// GetRowValue returns the key of item id, which must belong to table.
func (s *Session) GetRowValue(ctx context.Context, table string, id ItemID) (Value, bool, error) {
	db := s.db
	ti, found, err := db.tables.lookup(ctx, table)
	if err != nil || !found {
		return Erase, false, err
	}

	const sql = "SELECT valueid FROM " + itemsTable + " WHERE id = @id AND tableid = @tableid"
	var keyID ValueID
	found, err = db.scalar(ctx, "item.value", sql, Params{"id": id, "tableid": ti.ID}, &keyID)
	if err != nil || !found {
		return Erase, false, err
	}

	v, found, err := db.values.byIDLookup(ctx, ti.KeyKind(), keyID)
	if err != nil {
		return Erase, false, err
	} else if !found {
		return Erase, false, fmt.Errorf("metastore: item %d of %s references missing key value %d", id, table, keyID)
	}
	return v, true, nil
}

func (db *DB) Get(ctx context.Context, table string, keys []Value) ([]Record, error) {
	return withSession(db, func(s *Session) ([]Record, error) {
		return s.Get(ctx, table, keys)
	})
}

// GetOne is Get for a single key; it returns nil if the key does not exist.
func (db *DB) GetOne(ctx context.Context, table string, key Value) (Record, error) {
	recs, err := db.Get(ctx, table, []Value{key})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (db *DB) GetRowID(ctx context.Context, table string, key Value) (ItemID, bool, error) {
	s := db.NewSession()
	defer s.Close()
	return s.GetRowID(ctx, table, key)
}

func (db *DB) GetRowValue(ctx context.Context, table string, id ItemID) (Value, bool, error) {
	s := db.NewSession()
	defer s.Close()
	return s.GetRowValue(ctx, table, id)
}
