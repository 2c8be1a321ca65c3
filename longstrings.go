package metastore

import (
	"context"
	"log/slog"
)

// MaxLongStringLen is the exclusive upper bound on a long string's length in
// bytes.
const MaxLongStringLen = 64 * 1024

// longStringStore keeps text too large to intern. Writes go straight to the
// store; only purges caused by Delete, Drop and Reset are tied to a session
// commit.
type longStringStore interface {
	put(ctx context.Context, itemID ItemID, name, text string) error
	get(ctx context.Context, itemID ItemID, name string) (string, bool, error)
	delete(ctx context.Context, itemID ItemID, name string) error

	// stagePurge arranges for the long strings of the items selected by
	// where (a condition over the items table) to go away when s commits.
	// Must be called before the item rows themselves are staged for deletion.
	stagePurge(ctx context.Context, s *Session, where string, params Params) error
	stageReset(s *Session)

	count(ctx context.Context) (int, error)
	close() error
}

func validateLongStringName(name string) error {
	if !isSimpleIdentifier(name) {
		return &InvalidIdentifierError{What: "long string", Name: name}
	}
	return nil
}

// PutLongString stores text under (itemID, name), replacing any previous
// text. It is written immediately, not staged.
func (s *Session) PutLongString(ctx context.Context, itemID ItemID, name, text string) error {
	if err := s.db.checkOpen(); err != nil {
		return err
	}
	if err := validateLongStringName(name); err != nil {
		return err
	}
	if len(text) >= MaxLongStringLen {
		return &OversizedValueError{ItemID: itemID, Name: name, Len: len(text), Max: MaxLongStringLen - 1}
	}
	err := s.db.longStrings.put(ctx, itemID, name, text)
	if err != nil {
		return err
	}
	s.db.logVerbose(ctx, "metastore: LONGSTRING.PUT", slog.Int64("item", int64(itemID)), slog.String("name", name), slog.Int("len", len(text)))
	return nil
}

func (s *Session) GetLongString(ctx context.Context, itemID ItemID, name string) (string, bool, error) {
	if err := s.db.checkOpen(); err != nil {
		return "", false, err
	}
	if err := validateLongStringName(name); err != nil {
		return "", false, err
	}
	return s.db.longStrings.get(ctx, itemID, name)
}

// DeleteLongString is a no-op if nothing is stored under (itemID, name).
func (s *Session) DeleteLongString(ctx context.Context, itemID ItemID, name string) error {
	if err := s.db.checkOpen(); err != nil {
		return err
	}
	if err := validateLongStringName(name); err != nil {
		return err
	}
	return s.db.longStrings.delete(ctx, itemID, name)
}

func (db *DB) PutLongString(ctx context.Context, itemID ItemID, name, text string) error {
	_, err := withSession(db, func(s *Session) (struct{}, error) {
		return struct{}{}, s.PutLongString(ctx, itemID, name, text)
	})
	return err
}

func (db *DB) GetLongString(ctx context.Context, itemID ItemID, name string) (string, bool, error) {
	s := db.NewSession()
	defer s.Close()
	return s.GetLongString(ctx, itemID, name)
}

func (db *DB) DeleteLongString(ctx context.Context, itemID ItemID, name string) error {
	_, err := withSession(db, func(s *Session) (struct{}, error) {
		return struct{}{}, s.DeleteLongString(ctx, itemID, name)
	})
	return err
}

// sqlLongStrings keeps long strings in the backend's longstrings table.
type sqlLongStrings struct {
	db *DB
}

func (ls sqlLongStrings) put(ctx context.Context, itemID ItemID, name, text string) error {
	const update = "UPDATE " + longStringsTable + " SET longstring = @text WHERE itemid = @itemid AND name = @name"
	params := Params{"itemid": itemID, "name": name, "text": text}

	n, err := ls.db.exec(ctx, "longstring.update", update, params)
	if err != nil || n > 0 {
		return err
	}
	insert := ls.db.backend.InsertIgnore() + " " + longStringsTable + " (itemid, name, longstring) VALUES (@itemid, @name, @text)"
	n, err = ls.db.exec(ctx, "longstring.insert", insert, params)
	if err != nil || n > 0 {
		return err
	}
	// A concurrent writer inserted first, or MySQL reported an unchanged
	// row as unaffected; either way the update now applies.
	_, err = ls.db.exec(ctx, "longstring.update", update, params)
	return err
}

func (ls sqlLongStrings) get(ctx context.Context, itemID ItemID, name string) (string, bool, error) {
	const sql = "SELECT longstring FROM " + longStringsTable + " WHERE itemid = @itemid AND name = @name"
	var text string
	found, err := ls.db.scalar(ctx, "longstring.get", sql, Params{"itemid": itemID, "name": name}, &text)
	if err != nil || !found {
		return "", false, err
	}
	return text, true, nil
}

func (ls sqlLongStrings) delete(ctx context.Context, itemID ItemID, name string) error {
	const sql = "DELETE FROM " + longStringsTable + " WHERE itemid = @itemid AND name = @name"
	_, err := ls.db.exec(ctx, "longstring.delete", sql, Params{"itemid": itemID, "name": name})
	return err
}

func (ls sqlLongStrings) stagePurge(ctx context.Context, s *Session, where string, params Params) error {
	s.stage("DELETE FROM "+longStringsTable+" WHERE itemid IN (SELECT id FROM "+itemsTable+" WHERE "+where+")", params)
	return nil
}

func (ls sqlLongStrings) stageReset(s *Session) {
	s.stage("DELETE FROM "+longStringsTable, nil)
}

func (ls sqlLongStrings) count(ctx context.Context) (int, error) {
	var n int
	_, err := ls.db.scalar(ctx, "longstring.count", "SELECT COUNT(*) FROM "+longStringsTable, nil, &n)
	return n, err
}

func (ls sqlLongStrings) close() error {
	return nil
}
