package metastore

import (
	"context"
	"fmt"
	"strings"
)

// StoreStats counts the rows of every physical table.
type StoreStats struct {
	Tables        int
	Names         int
	StringValues  int
	NumericValues int
	Items         int
	Associations  int
	LongStrings   int
}

// TableStats describes one logical table.
type TableStats struct {
	Items        int
	Attributes   int
	Associations int
}

// CacheStats reports the number of cached identifiers per registry.
type CacheStats struct {
	Tables int
	Names  int
	Values int
}

func (ss StoreStats) String() string {
	return fmt.Sprintf("tables = %d, names = %d, values = %d+%d, items = %d, assocs = %d, longstrings = %d",
		ss.Tables, ss.Names, ss.StringValues, ss.NumericValues, ss.Items, ss.Associations, ss.LongStrings)
}

func (db *DB) count(ctx context.Context, table, where string, params Params) (int, error) {
	sql := "SELECT COUNT(*) FROM " + table
	if where != "" {
		sql += " WHERE " + where
	}
	var n int
	_, err := db.scalar(ctx, "count", sql, params, &n)
	return n, err
}

func (db *DB) Stats(ctx context.Context) (StoreStats, error) {
	if err := db.checkOpen(); err != nil {
		return StoreStats{}, err
	}
	var ss StoreStats
	for _, c := range []struct {
		table string
		dest  *int
	}{
		{tablesTable, &ss.Tables},
		{namesTable, &ss.Names},
		{stringValuesTable, &ss.StringValues},
		{numericValuesTable, &ss.NumericValues},
		{itemsTable, &ss.Items},
		{assocTable, &ss.Associations},
	} {
		n, err := db.count(ctx, c.table, "", nil)
		if err != nil {
			return ss, err
		}
		*c.dest = n
	}
	n, err := db.longStrings.count(ctx)
	if err != nil {
		return ss, err
	}
	ss.LongStrings = n
	return ss, nil
}

// TableStats returns false if the table does not exist.
func (db *DB) TableStats(ctx context.Context, table string) (TableStats, bool, error) {
	ti, found, err := db.tables.lookup(ctx, table)
	if err != nil || !found {
		return TableStats{}, false, err
	}
	params := Params{"tableid": ti.ID}
	var ts TableStats
	if ts.Items, err = db.count(ctx, itemsTable, "tableid = @tableid", params); err != nil {
		return ts, false, err
	}
	if ts.Attributes, err = db.count(ctx, namesTable, "tableid = @tableid", params); err != nil {
		return ts, false, err
	}
	if ts.Associations, err = db.count(ctx, assocTable, "nameid IN (SELECT id FROM "+namesTable+" WHERE tableid = @tableid)", params); err != nil {
		return ts, false, err
	}
	return ts, true, nil
}

func (db *DB) CacheStats() CacheStats {
	return CacheStats{
		Tables: db.tables.byName.len(),
		Names:  db.names.byKey.len(),
		Values: db.values.byValue.len(),
	}
}

func loggableRecord(rec Record) string {
	if rec == nil {
		return "<none>"
	}
	var buf strings.Builder
	buf.WriteByte('{')
	for i, name := range rec.Names() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(rec[name].GoString())
	}
	buf.WriteByte('}')
	return buf.String()
}
