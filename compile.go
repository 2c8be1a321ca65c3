package metastore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Statement is a compiled query: SQL with @name placeholders plus the
// parameters it references.
type Statement struct {
	SQL    string
	Params Params
}

// errNoMatch short-circuits permissive compilation when an unknown table, or
// an unknown attribute among the selected columns, guarantees an empty result.
var errNoMatch = errors.New("metastore: query cannot match any item")

type compiledQuery struct {
	Statement
	table   TableInfo
	columns []string
}

type compiler struct {
	db     *DB
	q      *Query
	strict bool

	table    TableInfo
	attrIdx  map[string]int
	attrs    []NameInfo
	needsKey bool
	params   Params
}

// Compile translates q into SQL against the physical schema. Unknown tables
// and attributes fail with NotFoundError.
func (db *DB) Compile(ctx context.Context, q Query) (Statement, error) {
	cq, err := db.compile(ctx, &q, true)
	if err != nil {
		return Statement{}, err
	}
	return cq.Statement, nil
}

func (db *DB) compile(ctx context.Context, q *Query, strict bool) (*compiledQuery, error) {
	if err := validateTableName(q.From); err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, queryErrf("", 0, "negative limit %d", q.Limit)
	}

	ti, found, err := db.tables.lookup(ctx, q.From)
	if err != nil {
		return nil, err
	} else if !found {
		if strict {
			return nil, &NotFoundError{"table", q.From}
		}
		return nil, errNoMatch
	}

	c := &compiler{
		db:      db,
		q:       q,
		strict:  strict,
		table:   ti,
		attrIdx: make(map[string]int),
		params:  make(Params),
	}

	columns := q.Select
	if len(columns) == 0 {
		columns = []string{colID, colValue}
	}
	selects := make([]string, len(columns))
	for i, name := range columns {
		expr, err := c.column(ctx, name, false)
		if err != nil {
			return nil, err
		}
		selects[i] = expr + " AS " + quoteIdent(db.backend.Dialect(), name)
	}

	var where string
	if strings.TrimSpace(q.Where) != "" {
		where, err = c.predicate(ctx, q.Where)
		if err != nil {
			return nil, err
		}
	}

	var orders []string
	for _, o := range q.OrderBy {
		expr, err := c.column(ctx, o.Field, true)
		if err != nil {
			return nil, err
		}
		if o.Desc {
			expr += " DESC"
		}
		orders = append(orders, expr)
	}
	if len(orders) == 0 {
		orders = append(orders, "i.id")
	}

	var buf strings.Builder
	buf.WriteString("SELECT ")
	buf.WriteString(strings.Join(selects, ", "))
	buf.WriteString("\nFROM " + itemsTable + " i")
	if c.needsKey {
		buf.WriteString("\nJOIN " + valuesTableFor(ti.KeyKind()) + " k ON k.id = i.valueid")
	}
	for idx, ni := range c.attrs {
		a, v := "a"+strconv.Itoa(idx), "v"+strconv.Itoa(idx)
		fmt.Fprintf(&buf, "\nLEFT JOIN %s %s ON %s.itemid = i.id AND %s.nameid = %d", assocTable, a, a, a, ni.ID)
		fmt.Fprintf(&buf, "\nLEFT JOIN %s %s ON %s.id = %s.valueid", valuesTableFor(ni.ValueKind()), v, v, a)
	}
	fmt.Fprintf(&buf, "\nWHERE i.tableid = %d", ti.ID)
	if where != "" {
		buf.WriteString(" AND (")
		buf.WriteString(where)
		buf.WriteByte(')')
	}
	buf.WriteString("\nORDER BY ")
	buf.WriteString(strings.Join(orders, ", "))
	if q.Limit > 0 {
		buf.WriteString("\nLIMIT ")
		buf.WriteString(strconv.Itoa(q.Limit))
	}

	return &compiledQuery{
		Statement: Statement{SQL: buf.String(), Params: c.params},
		table:     ti,
		columns:   columns,
	}, nil
}

// column resolves a column reference to an SQL expression, adding the joins
// an attribute needs on first use. In permissive mode an unknown attribute
// reads as NULL where nullable is set, the value it has on every item, and
// rules out any match where it is not.
func (c *compiler) column(ctx context.Context, name string, nullable bool) (string, error) {
	switch {
	case strings.EqualFold(name, colID):
		return "i.id", nil
	case strings.EqualFold(name, colValue):
		c.needsKey = true
		return "k.value", nil
	}
	if idx, ok := c.attrIdx[name]; ok {
		return "v" + strconv.Itoa(idx) + ".value", nil
	}

	ni, found, err := c.db.names.lookup(ctx, c.table.ID, name)
	if err != nil {
		return "", err
	} else if !found {
		if c.strict {
			return "", &NotFoundError{"attribute", c.table.Name + "." + name}
		} else if nullable {
			return "NULL", nil
		}
		return "", errNoMatch
	}

	idx := len(c.attrs)
	c.attrIdx[name] = idx
	c.attrs = append(c.attrs, ni)
	return "v" + strconv.Itoa(idx) + ".value", nil
}

// predicate rewrites a whitelisted predicate. Attribute references become
// join columns and placeholders stay placeholders, so no caller text other
// than keywords, operators and numbers reaches the SQL.
func (c *compiler) predicate(ctx context.Context, src string) (string, error) {
	toks, err := tokenize(src, whereKeywords)
	if err != nil {
		return "", err
	}

	var depth int
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		switch t.kind {
		case tokIdent:
			expr, err := c.column(ctx, t.text, true)
			if err != nil {
				return "", err
			}
			parts = append(parts, expr)

		case tokParam:
			v, ok := c.q.param(t.text)
			if !ok {
				return "", queryErrf(src, t.pos, "no value bound for @%s", t.text)
			}
			if v.IsErase() {
				return "", queryErrf(src, t.pos, "@%s is bound to the erase marker; use IS NULL", t.text)
			}
			c.params[t.text] = v
			parts = append(parts, "@"+t.text)

		case tokLParen:
			depth++
			parts = append(parts, t.text)
		case tokRParen:
			depth--
			if depth < 0 {
				return "", queryErrf(src, t.pos, "unbalanced parenthesis")
			}
			parts = append(parts, t.text)

		case tokStar:
			return "", queryErrf(src, t.pos, "unexpected *")

		default:
			parts = append(parts, t.text)
		}
	}
	if depth != 0 {
		return "", queryErrf(src, len(src), "unbalanced parenthesis")
	}
	if len(parts) == 0 {
		return "", nil
	}
	return strings.Join(parts, " "), nil
}

func quoteIdent(dialect, name string) string {
	if dialect == DriverMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// GenerateSQL returns the SQL text Compile produces for q.
func (db *DB) GenerateSQL(ctx context.Context, q Query) (string, error) {
	st, err := db.Compile(ctx, q)
	if err != nil {
		return "", err
	}
	return st.SQL, nil
}
