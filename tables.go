package metastore

import (
	"context"
	"fmt"
	"log/slog"
)

type TableID int64

type TableInfo struct {
	ID        TableID
	Name      string
	IsNumeric bool // keys are numbers
}

func (ti TableInfo) KeyKind() Kind {
	return kindOf(ti.IsNumeric)
}

type tableRegistry struct {
	db     *DB
	byName *cache[string, TableInfo]
	byID   *cache[TableID, TableInfo]
}

func newTableRegistry(db *DB, shards int) *tableRegistry {
	return &tableRegistry{
		db:     db,
		byName: newCache[string, TableInfo](shards, hashString),
		byID:   newCache[TableID, TableInfo](shards, func(id TableID) uint64 { return hashInt(int64(id)) }),
	}
}

func (r *tableRegistry) invalidate() {
	r.byName.clear()
	r.byID.clear()
}

func (r *tableRegistry) remember(ti TableInfo) TableInfo {
	r.byName.put(ti.Name, ti)
	r.byID.put(ti.ID, ti)
	return ti
}

func (r *tableRegistry) lookup(ctx context.Context, name string) (TableInfo, bool, error) {
	if err := validateTableName(name); err != nil {
		return TableInfo{}, false, err
	}
	if ti, ok := r.byName.get(name); ok {
		r.db.CacheHits.Add(1)
		return ti, true, nil
	}
	r.db.CacheMisses.Add(1)

	const sql = "SELECT id, isnumeric FROM " + tablesTable + " WHERE name = @name"
	rows, err := r.db.query(ctx, "table.lookup", sql, Params{"name": name})
	if err != nil {
		return TableInfo{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return TableInfo{}, false, backendErr("table.lookup", sql, rows.Err())
	}
	ti := TableInfo{Name: name}
	var isNumeric int64
	if err := rows.Scan(&ti.ID, &isNumeric); err != nil {
		return TableInfo{}, false, backendErr("table.lookup", sql, err)
	}
	ti.IsNumeric = isNumeric != 0
	return r.remember(ti), true, nil
}

func (r *tableRegistry) byIDLookup(ctx context.Context, id TableID) (TableInfo, bool, error) {
	if ti, ok := r.byID.get(id); ok {
		r.db.CacheHits.Add(1)
		return ti, true, nil
	}
	r.db.CacheMisses.Add(1)

	const sql = "SELECT name, isnumeric FROM " + tablesTable + " WHERE id = @id"
	rows, err := r.db.query(ctx, "table.byid", sql, Params{"id": id})
	if err != nil {
		return TableInfo{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return TableInfo{}, false, backendErr("table.byid", sql, rows.Err())
	}
	ti := TableInfo{ID: id}
	var isNumeric int64
	if err := rows.Scan(&ti.Name, &isNumeric); err != nil {
		return TableInfo{}, false, backendErr("table.byid", sql, err)
	}
	ti.IsNumeric = isNumeric != 0
	return r.remember(ti), true, nil
}

// getOrCreate returns the table, creating it with the given key kind if it
// does not exist yet. Concurrent creators race on the unique index; losers
// re-select the winner's row.
func (r *tableRegistry) getOrCreate(ctx context.Context, name string, isNumeric bool) (TableInfo, error) {
	ti, found, err := r.lookup(ctx, name)
	if err != nil {
		return TableInfo{}, err
	}
	if !found {
		sql := r.db.backend.InsertIgnore() + " " + tablesTable + " (name, isnumeric) VALUES (@name, @isnumeric)"
		id, affected, err := r.db.insert(ctx, "table.create", sql, Params{"name": name, "isnumeric": isNumeric})
		if err != nil {
			return TableInfo{}, err
		}
		if affected > 0 {
			ti = r.remember(TableInfo{ID: TableID(id), Name: name, IsNumeric: isNumeric})
			r.db.logVerbose(ctx, "metastore: TABLE.CREATE", slog.String("table", name), slog.Int64("id", id), slog.Bool("numeric", isNumeric))
		} else {
			ti, found, err = r.lookup(ctx, name)
			if err != nil {
				return TableInfo{}, err
			}
			if !found {
				return TableInfo{}, fmt.Errorf("metastore: table %q vanished while being created", name)
			}
		}
	}
	if ti.IsNumeric != isNumeric {
		return ti, &DataTypeMismatchError{Table: name, Got: kindOf(isNumeric), Recorded: ti.KeyKind()}
	}
	return ti, nil
}

// GetOrCreateTable returns the table, creating it if needed. Fails with
// DataTypeMismatchError if it exists with the other key kind.
func (db *DB) GetOrCreateTable(ctx context.Context, name string, isNumeric bool) (TableInfo, error) {
	return db.tables.getOrCreate(ctx, name, isNumeric)
}

func (db *DB) LookupTable(ctx context.Context, name string) (TableInfo, bool, error) {
	return db.tables.lookup(ctx, name)
}

func (db *DB) TableByID(ctx context.Context, id TableID) (TableInfo, bool, error) {
	return db.tables.byIDLookup(ctx, id)
}
