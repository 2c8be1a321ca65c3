package metastore

import (
	"context"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpItems
	DumpStats
	DumpSchema

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the whole store for diagnostics. It reads everything, so keep
// it to tests and small stores.
func (db *DB) Dump(ctx context.Context, f DumpFlags) (string, error) {
	sch, err := db.GetSchema(ctx, "")
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if f.Contains(DumpStats) {
		ss, err := db.Stats(ctx)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "stats: %v\n", ss)
	}
	for _, table := range sch.Tables() {
		if err := db.dumpTable(ctx, &buf, f, table, sch[table]); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func (db *DB) dumpTable(ctx context.Context, w *strings.Builder, f DumpFlags, table string, attrs []string) error {
	ts, _, err := db.TableStats(ctx, table)
	if err != nil {
		return err
	}

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d items)\n", table, ts.Items)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: attributes = %d, assocs = %d\n", table, ts.Attributes, ts.Associations)
	}
	if f.Contains(DumpSchema) {
		fmt.Fprintf(w, "%s.schema: %s\n", table, strings.Join(attrs, ", "))
	}

	if f.Contains(DumpItems) {
		if f.Contains(DumpStats) || f.Contains(DumpSchema) {
			fmt.Fprintln(w, dumpSep2)
		}
		recs, err := db.QueryGet(ctx, Query{From: table})
		if err != nil {
			return err
		}
		for i, rec := range recs {
			key := rec[colValue]
			delete(rec, colID)
			delete(rec, colValue)
			fmt.Fprintf(w, "%s.%d: %s = %s\n", table, i+1, key.GoString(), loggableRecord(rec))
		}
	}
	return nil
}
