package metastore

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/sync/errgroup"
)

// QueryGet finds the items matching q and returns their full attribute maps,
// each with the extra fields "id" (a number) and "value" (the item key).
// q.Select is ignored. A query on an unknown table matches nothing; an
// unknown attribute in Where or OrderBy reads as NULL on every item.
func (s *Session) QueryGet(ctx context.Context, q Query) ([]Record, error) {
	db := s.db
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	q.Select = []string{colID, colValue}
	cq, err := db.compile(ctx, &q, false)
	if errors.Is(err, errNoMatch) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	ids, keys, err := db.matchItems(ctx, cq)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.hydrateConc)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := db.itemRecord(gctx, id)
			if err != nil {
				return err
			}
			rec[colID] = Int(int64(id))
			rec[colValue] = keys[i]
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// matchItems runs a compiled (id, value) query.
func (db *DB) matchItems(ctx context.Context, cq *compiledQuery) ([]ItemID, []Value, error) {
	rows, err := db.query(ctx, "query", cq.SQL, cq.Params)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []ItemID
	var keys []Value
	for rows.Next() {
		var id ItemID
		var key Value
		if cq.table.IsNumeric {
			var n sql.NullFloat64
			err = rows.Scan(&id, &n)
			key = Num(n.Float64)
		} else {
			var s sql.NullString
			err = rows.Scan(&id, &s)
			key = Str(s.String)
		}
		if err != nil {
			return nil, nil, backendErr("query", cq.SQL, err)
		}
		ids = append(ids, id)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, backendErr("query", cq.SQL, err)
	}
	return ids, keys, nil
}

// GenerateSQL returns the SQL a query compiles to. Unlike QueryGet, unknown
// tables and attributes fail with NotFoundError.
func (s *Session) GenerateSQL(ctx context.Context, q Query) (string, error) {
	return s.db.GenerateSQL(ctx, q)
}

func (db *DB) QueryGet(ctx context.Context, q Query) ([]Record, error) {
	return withSession(db, func(s *Session) ([]Record, error) {
		return s.QueryGet(ctx, q)
	})
}
