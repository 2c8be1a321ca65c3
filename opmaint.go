package metastore

import (
	"context"
	"log/slog"
)

// Reset wipes every item, attribute value and long string. With
// includeRegistries it also wipes tables, attribute names and interned
// values, leaving an empty store. Meant for tests.
func (s *Session) Reset(ctx context.Context, includeRegistries bool) error {
	db := s.db
	if err := db.checkOpen(); err != nil {
		return err
	}
	defer db.InvalidateCaches()

	s.stage("DELETE FROM "+assocTable, nil)
	db.longStrings.stageReset(s)
	s.stage("DELETE FROM "+itemsTable, nil)
	if includeRegistries {
		s.stage("DELETE FROM "+namesTable, nil)
		s.stage("DELETE FROM "+tablesTable, nil)
		s.stage("DELETE FROM "+stringValuesTable, nil)
		s.stage("DELETE FROM "+numericValuesTable, nil)
	}
	s.noteChange(Change{op: OpReset})

	db.logVerbose(ctx, "metastore: RESET", slog.Bool("registries", includeRegistries))
	return s.Commit(ctx)
}

// CreateTable creates a table ahead of its first Define. Tables are normally
// created implicitly.
func (s *Session) CreateTable(ctx context.Context, name string, isNumeric bool) (TableInfo, error) {
	if err := s.db.checkOpen(); err != nil {
		return TableInfo{}, err
	}
	return s.db.tables.getOrCreate(ctx, name, isNumeric)
}

func (db *DB) Reset(ctx context.Context, includeRegistries bool) error {
	_, err := withSession(db, func(s *Session) (struct{}, error) {
		return struct{}{}, s.Reset(ctx, includeRegistries)
	})
	return err
}

func (db *DB) CreateTable(ctx context.Context, name string, isNumeric bool) (TableInfo, error) {
	return withSession(db, func(s *Session) (TableInfo, error) {
		return s.CreateTable(ctx, name, isNumeric)
	})
}
