package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Define upserts the item keyed by key in table and applies attrs to it.
// Attributes mapped to Erase are removed; attributes not mentioned are left
// alone. The table and every attribute fix their kind on first use. Erasing an
// attribute the table has never had does not create it, so it does not show
// up in GetSchema.
//
// Identifiers created while resolving stay even if Define fails; the
// attribute writes themselves commit all together or not at all.
func (s *Session) Define(ctx context.Context, table string, key Value, attrs map[string]Value) error {
	itemID, err := s.stageDefine(ctx, table, key, attrs)
	if err != nil {
		s.Discard()
		return err
	}
	s.db.logVerbose(ctx, "metastore: DEFINE", slog.String("table", table), slog.String("key", key.GoString()), slog.Int64("item", int64(itemID)), slog.Int("attrs", len(attrs)))
	return s.Commit(ctx)
}

func (s *Session) stageDefine(ctx context.Context, table string, key Value, attrs map[string]Value) (ItemID, error) {
	if key.IsErase() {
		return 0, fmt.Errorf("metastore: %s: item key must be a string or a number", table)
	}
	db := s.db
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	ti, err := db.tables.getOrCreate(ctx, table, key.IsNumeric())
	if err != nil {
		return 0, withMismatchValue(err, key)
	}
	keyID, err := db.values.getOrCreate(ctx, key)
	if err != nil {
		return 0, withValueContext(err, ti.Name, "")
	}
	itemID, err := db.GetOrCreateItem(ctx, ti.ID, keyID)
	if err != nil {
		return 0, err
	}

	data := make(map[NameID]ValueID, len(attrs))
	for _, name := range sortedKeys(attrs) {
		v := attrs[name]
		if v.IsErase() {
			// an attribute that was never created has nothing to erase
			ni, found, err := db.names.lookup(ctx, ti.ID, name)
			if err != nil {
				return 0, err
			} else if found {
				data[ni.ID] = EraseValueID
			}
			continue
		}

		ni, err := db.names.getOrCreate(ctx, ti, name, v.IsNumeric())
		if err != nil {
			return 0, withMismatchValue(err, v)
		}
		valueID, err := db.values.getOrCreate(ctx, v)
		if err != nil {
			return 0, withValueContext(err, ti.Name, name)
		}
		data[ni.ID] = valueID
	}

	s.SetItemData(itemID, data)
	s.touchItem(itemID)
	s.noteChange(Change{op: OpPut, table: ti.Name, key: key})
	return itemID, nil
}

func withMismatchValue(err error, v Value) error {
	var e *DataTypeMismatchError
	if errors.As(err, &e) && e.Value.IsErase() {
		e.Value = v
	}
	return err
}

func withValueContext(err error, table, name string) error {
	var e *OversizedValueError
	if errors.As(err, &e) && e.Table == "" {
		e.Table, e.Name = table, name
	}
	return err
}

func (db *DB) Define(ctx context.Context, table string, key Value, attrs map[string]Value) error {
	_, err := withSession(db, func(s *Session) (struct{}, error) {
		return struct{}{}, s.Define(ctx, table, key, attrs)
	})
	return err
}
