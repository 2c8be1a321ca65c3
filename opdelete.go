package metastore

import (
	"context"
	"log/slog"
)

// Delete removes the items keyed by keys together with their attributes and
// long strings. Unknown tables and keys are ignored.
func (s *Session) Delete(ctx context.Context, table string, keys []Value) error {
	n, err := s.stageDelete(ctx, table, keys)
	if err != nil {
		s.Discard()
		return err
	}
	s.db.logVerbose(ctx, "metastore: DELETE", slog.String("table", table), slog.Int("keys", len(keys)), slog.Int("found", n))
	return s.Commit(ctx)
}

func (s *Session) stageDelete(ctx context.Context, table string, keys []Value) (int, error) {
	db := s.db
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	ti, found, err := db.tables.lookup(ctx, table)
	if err != nil || !found {
		return 0, err
	}

	var n int
	for _, key := range keys {
		itemID, found, err := db.findItem(ctx, ti, key)
		if err != nil {
			return 0, err
		} else if !found {
			continue
		}
		params := Params{"itemid": itemID}
		s.stage("DELETE FROM "+assocTable+" WHERE itemid = @itemid", params)
		if err := db.longStrings.stagePurge(ctx, s, "id = @itemid", params); err != nil {
			return 0, err
		}
		s.stage("DELETE FROM "+itemsTable+" WHERE id = @itemid", params)
		s.noteChange(Change{op: OpDelete, table: ti.Name, key: key})
		n++
	}
	return n, nil
}

func (db *DB) Delete(ctx context.Context, table string, keys []Value) error {
	_, err := withSession(db, func(s *Session) (struct{}, error) {
		return struct{}{}, s.Delete(ctx, table, keys)
	})
	return err
}
