package metastore

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
)

type NameID int64

// NameInfo describes an attribute of a table.
type NameInfo struct {
	ID        NameID
	TableID   TableID
	Name      string
	IsNumeric bool // values are numbers
}

func (ni NameInfo) ValueKind() Kind {
	return kindOf(ni.IsNumeric)
}

type nameKey struct {
	tableID TableID
	name    string
}

func hashNameKey(k nameKey) uint64 {
	var d xxhash.Digest
	d.Reset()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k.tableID))
	d.Write(buf[:])
	d.WriteString(k.name)
	return d.Sum64()
}

type nameRegistry struct {
	db    *DB
	byKey *cache[nameKey, NameInfo]
	byID  *cache[NameID, NameInfo]
}

func newNameRegistry(db *DB, shards int) *nameRegistry {
	return &nameRegistry{
		db:    db,
		byKey: newCache[nameKey, NameInfo](shards, hashNameKey),
		byID:  newCache[NameID, NameInfo](shards, func(id NameID) uint64 { return hashInt(int64(id)) }),
	}
}

func (r *nameRegistry) invalidate() {
	r.byKey.clear()
	r.byID.clear()
}

func (r *nameRegistry) remember(ni NameInfo) NameInfo {
	r.byKey.put(nameKey{ni.TableID, ni.Name}, ni)
	r.byID.put(ni.ID, ni)
	return ni
}

func (r *nameRegistry) lookup(ctx context.Context, tableID TableID, name string) (NameInfo, bool, error) {
	if err := validateAttrName(name); err != nil {
		return NameInfo{}, false, err
	}
	if ni, ok := r.byKey.get(nameKey{tableID, name}); ok {
		r.db.CacheHits.Add(1)
		return ni, true, nil
	}
	r.db.CacheMisses.Add(1)

	const sql = "SELECT id, isnumeric FROM " + namesTable + " WHERE tableid = @tableid AND name = @name"
	rows, err := r.db.query(ctx, "name.lookup", sql, Params{"tableid": tableID, "name": name})
	if err != nil {
		return NameInfo{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return NameInfo{}, false, backendErr("name.lookup", sql, rows.Err())
	}
	ni := NameInfo{TableID: tableID, Name: name}
	var isNumeric int64
	if err := rows.Scan(&ni.ID, &isNumeric); err != nil {
		return NameInfo{}, false, backendErr("name.lookup", sql, err)
	}
	ni.IsNumeric = isNumeric != 0
	return r.remember(ni), true, nil
}

func (r *nameRegistry) byIDLookup(ctx context.Context, id NameID) (NameInfo, bool, error) {
	if ni, ok := r.byID.get(id); ok {
		r.db.CacheHits.Add(1)
		return ni, true, nil
	}
	r.db.CacheMisses.Add(1)

	const sql = "SELECT tableid, name, isnumeric FROM " + namesTable + " WHERE id = @id"
	rows, err := r.db.query(ctx, "name.byid", sql, Params{"id": id})
	if err != nil {
		return NameInfo{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return NameInfo{}, false, backendErr("name.byid", sql, rows.Err())
	}
	ni := NameInfo{ID: id}
	var isNumeric int64
	if err := rows.Scan(&ni.TableID, &ni.Name, &isNumeric); err != nil {
		return NameInfo{}, false, backendErr("name.byid", sql, err)
	}
	ni.IsNumeric = isNumeric != 0
	return r.remember(ni), true, nil
}

// getOrCreate fixes the attribute's value kind on first use; later calls with
// the other kind fail with DataTypeMismatchError.
func (r *nameRegistry) getOrCreate(ctx context.Context, ti TableInfo, name string, isNumeric bool) (NameInfo, error) {
	ni, found, err := r.lookup(ctx, ti.ID, name)
	if err != nil {
		return NameInfo{}, err
	}
	if !found {
		sql := r.db.backend.InsertIgnore() + " " + namesTable + " (tableid, name, isnumeric) VALUES (@tableid, @name, @isnumeric)"
		id, affected, err := r.db.insert(ctx, "name.create", sql, Params{"tableid": ti.ID, "name": name, "isnumeric": isNumeric})
		if err != nil {
			return NameInfo{}, err
		}
		if affected > 0 {
			ni = r.remember(NameInfo{ID: NameID(id), TableID: ti.ID, Name: name, IsNumeric: isNumeric})
			r.db.logVerbose(ctx, "metastore: NAME.CREATE", slog.String("table", ti.Name), slog.String("name", name), slog.Int64("id", id), slog.Bool("numeric", isNumeric))
		} else {
			ni, found, err = r.lookup(ctx, ti.ID, name)
			if err != nil {
				return NameInfo{}, err
			}
			if !found {
				return NameInfo{}, fmt.Errorf("metastore: attribute %s.%s vanished while being created", ti.Name, name)
			}
		}
	}
	if ni.IsNumeric != isNumeric {
		return ni, &DataTypeMismatchError{Table: ti.Name, Name: name, Got: kindOf(isNumeric), Recorded: ni.ValueKind()}
	}
	return ni, nil
}

func (db *DB) GetOrCreateName(ctx context.Context, tableID TableID, name string, isNumeric bool) (NameInfo, error) {
	ti, found, err := db.tables.byIDLookup(ctx, tableID)
	if err != nil {
		return NameInfo{}, err
	} else if !found {
		return NameInfo{}, &NotFoundError{"table", fmt.Sprint(tableID)}
	}
	return db.names.getOrCreate(ctx, ti, name, isNumeric)
}

func (db *DB) LookupName(ctx context.Context, tableID TableID, name string) (NameInfo, bool, error) {
	return db.names.lookup(ctx, tableID, name)
}

func (db *DB) NameByID(ctx context.Context, id NameID) (NameInfo, bool, error) {
	return db.names.byIDLookup(ctx, id)
}
