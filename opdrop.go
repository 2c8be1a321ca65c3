package metastore

import (
	"context"
	"log/slog"
)

// Drop removes the table with all of its attributes, items and long strings.
// Interned values stay. Registry caches are invalidated before and after, so
// neither a stale entry nor a half-dropped table can be resolved from cache.
func (s *Session) Drop(ctx context.Context, table string) error {
	db := s.db
	if err := db.checkOpen(); err != nil {
		return err
	}

	db.InvalidateCaches()
	defer db.InvalidateCaches()

	ti, found, err := db.tables.lookup(ctx, table)
	if err != nil {
		s.Discard()
		return err
	} else if !found {
		return s.Commit(ctx)
	}

	params := Params{"tableid": ti.ID}
	s.stage("DELETE FROM "+assocTable+" WHERE nameid IN (SELECT id FROM "+namesTable+" WHERE tableid = @tableid)", params)
	s.stage("DELETE FROM "+assocTable+" WHERE itemid IN (SELECT id FROM "+itemsTable+" WHERE tableid = @tableid)", params)
	if err := db.longStrings.stagePurge(ctx, s, "tableid = @tableid", params); err != nil {
		s.Discard()
		return err
	}
	s.stage("DELETE FROM "+namesTable+" WHERE tableid = @tableid", params)
	s.stage("DELETE FROM "+itemsTable+" WHERE tableid = @tableid", params)
	s.stage("DELETE FROM "+tablesTable+" WHERE id = @tableid", params)
	s.noteChange(Change{op: OpDrop, table: ti.Name})

	db.logVerbose(ctx, "metastore: DROP", slog.String("table", ti.Name), slog.Int64("id", int64(ti.ID)))
	return s.Commit(ctx)
}

func (db *DB) Drop(ctx context.Context, table string) error {
	_, err := withSession(db, func(s *Session) (struct{}, error) {
		return struct{}{}, s.Drop(ctx, table)
	})
	return err
}
