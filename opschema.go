package metastore

import (
	"context"
	"database/sql"
)

// Schema maps table names to their attribute names, sorted.
type Schema map[string][]string

// Tables returns the table names in sorted order.
func (sch Schema) Tables() []string {
	return sortedKeys(sch)
}

// GetSchema describes one table, or every table when table is empty. A table
// that does not exist is simply absent from the result. Tables without
// attributes map to an empty list.
func (s *Session) GetSchema(ctx context.Context, table string) (Schema, error) {
	db := s.db
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	q := "SELECT t.name, n.name FROM " + tablesTable + " t LEFT JOIN " + namesTable + " n ON n.tableid = t.id"
	var params Params
	if table != "" {
		if err := validateTableName(table); err != nil {
			return nil, err
		}
		q += " WHERE t.name = @name"
		params = Params{"name": table}
	}
	q += " ORDER BY t.name, n.name"

	rows, err := db.query(ctx, "schema", q, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sch := make(Schema)
	for rows.Next() {
		var tableName string
		var attr sql.NullString
		if err := rows.Scan(&tableName, &attr); err != nil {
			return nil, backendErr("schema", q, err)
		}
		attrs := sch[tableName]
		if attrs == nil {
			attrs = []string{}
		}
		if attr.Valid {
			attrs = append(attrs, attr.String)
		}
		sch[tableName] = attrs
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("schema", q, err)
	}
	return sch, nil
}

func (db *DB) GetSchema(ctx context.Context, table string) (Schema, error) {
	return withSession(db, func(s *Session) (Schema, error) {
		return s.GetSchema(ctx, table)
	})
}
