package metastore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

type ItemID int64

// Record is the hydrated attribute map of an item.
type Record map[string]Value

// Names returns the attribute names in sorted order.
func (r Record) Names() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GetOrCreateItem returns the item keyed by (tableID, keyValueID), creating it
// if needed. Item ids are never cached since Delete destroys items.
func (db *DB) GetOrCreateItem(ctx context.Context, tableID TableID, keyValueID ValueID) (ItemID, error) {
	id, found, err := db.LookupItem(ctx, tableID, keyValueID)
	if err != nil {
		return 0, err
	} else if found {
		return id, nil
	}

	now := db.backend.UTCTimestamp()
	sql := db.backend.InsertIgnore() + " " + itemsTable + " (tableid, valueid, created, lastmodified) VALUES (@tableid, @valueid, " + now + ", " + now + ")"
	newID, affected, err := db.insert(ctx, "item.create", sql, Params{"tableid": tableID, "valueid": keyValueID})
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		return ItemID(newID), nil
	}

	id, found, err = db.LookupItem(ctx, tableID, keyValueID)
	if err != nil {
		return 0, err
	} else if !found {
		return 0, fmt.Errorf("metastore: item %d/%d vanished while being created", tableID, keyValueID)
	}
	return id, nil
}

func (db *DB) LookupItem(ctx context.Context, tableID TableID, keyValueID ValueID) (ItemID, bool, error) {
	const sql = "SELECT id FROM " + itemsTable + " WHERE tableid = @tableid AND valueid = @valueid"
	var id ItemID
	found, err := db.scalar(ctx, "item.lookup", sql, Params{"tableid": tableID, "valueid": keyValueID}, &id)
	if err != nil || !found {
		return 0, false, err
	}
	return id, true, nil
}

// ItemData reads every current association of the item directly, bypassing
// any staged writes.
func (db *DB) ItemData(ctx context.Context, itemID ItemID) (map[NameID]ValueID, error) {
	const sql = "SELECT nameid, valueid FROM " + assocTable + " WHERE itemid = @itemid"
	rows, err := db.query(ctx, "item.data", sql, Params{"itemid": itemID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data := make(map[NameID]ValueID)
	for rows.Next() {
		var nameID NameID
		var valueID ValueID
		if err := rows.Scan(&nameID, &valueID); err != nil {
			return nil, backendErr("item.data", sql, err)
		}
		data[nameID] = valueID
	}
	return data, backendErr("item.data", sql, rows.Err())
}

// SetItemData stages one upsert per association, or a delete for
// EraseValueID. Nothing is written until Commit.
func (s *Session) SetItemData(itemID ItemID, data map[NameID]ValueID) {
	nameIDs := make([]NameID, 0, len(data))
	for nameID := range data {
		nameIDs = append(nameIDs, nameID)
	}
	slices.Sort(nameIDs)

	for _, nameID := range nameIDs {
		valueID := data[nameID]
		if valueID == EraseValueID {
			s.stage("DELETE FROM "+assocTable+" WHERE itemid = @itemid AND nameid = @nameid",
				Params{"itemid": itemID, "nameid": nameID})
		} else {
			s.stage("REPLACE INTO "+assocTable+" (itemid, nameid, valueid) VALUES (@itemid, @nameid, @valueid)",
				Params{"itemid": itemID, "nameid": nameID, "valueid": valueID})
		}
	}
}

func (s *Session) touchItem(itemID ItemID) {
	s.stage("UPDATE "+itemsTable+" SET lastmodified = "+s.db.backend.UTCTimestamp()+" WHERE id = @itemid",
		Params{"itemid": itemID})
}

// hydrate turns (nameID, valueID) pairs back into literal names and values.
// Associations whose name or value row has disappeared are skipped, or fail
// in testing mode.
func (db *DB) hydrate(ctx context.Context, data map[NameID]ValueID) (Record, error) {
	rec := make(Record, len(data))
	for nameID, valueID := range data {
		ni, found, err := db.names.byIDLookup(ctx, nameID)
		if err != nil {
			return nil, err
		}
		if !found {
			if err := db.dangling(ctx, "name", int64(nameID)); err != nil {
				return nil, err
			}
			continue
		}
		v, found, err := db.values.byIDLookup(ctx, ni.ValueKind(), valueID)
		if err != nil {
			return nil, err
		}
		if !found {
			if err := db.dangling(ctx, "value", int64(valueID)); err != nil {
				return nil, err
			}
			continue
		}
		rec[ni.Name] = v
	}
	return rec, nil
}

func (db *DB) dangling(ctx context.Context, what string, id int64) error {
	if db.strict {
		return fmt.Errorf("metastore: association references missing %s %d", what, id)
	}
	db.logger.LogAttrs(ctx, slog.LevelWarn, "metastore: dangling association", slog.String("missing", what), slog.Int64("id", id))
	return nil
}

// itemRecord reads and hydrates one item.
func (db *DB) itemRecord(ctx context.Context, itemID ItemID) (Record, error) {
	data, err := db.ItemData(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return db.hydrate(ctx, data)
}
