package metastore

import (
	"strconv"
	"strings"
)

// Pseudo-columns every table has. They are never attribute names.
const (
	colID    = "id"
	colValue = "value"
)

// Query describes a search over one logical table. Column references in
// Select, Where and OrderBy are attribute names or the pseudo-columns id and
// value. Where is a predicate over those columns whose literals are passed as
// @name placeholders bound through Params.
type Query struct {
	Select  []string
	From    string
	Where   string
	OrderBy []Order
	Limit   int
	Params  map[string]Value
}

type Order struct {
	Field string
	Desc  bool
}

// Param binds a placeholder and returns q for chaining.
func (q *Query) Param(name string, v Value) *Query {
	if q.Params == nil {
		q.Params = make(map[string]Value)
	}
	q.Params[strings.TrimPrefix(name, "@")] = v
	return q
}

func (q *Query) param(name string) (Value, bool) {
	if v, ok := q.Params[name]; ok {
		return v, true
	}
	v, ok := q.Params["@"+name]
	return v, ok
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokKeyword
	tokParam
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokStar
)

type token struct {
	kind tokenKind
	text string // keywords are upper-cased, params lack the @
	pos  int
}

var whereKeywords = map[string]bool{
	"AND":     true,
	"OR":      true,
	"NOT":     true,
	"LIKE":    true,
	"IN":      true,
	"IS":      true,
	"NULL":    true,
	"BETWEEN": true,
}

// Recognized only by ParseQuery, never inside a predicate.
var clauseKeywords = map[string]bool{
	"SELECT": true,
	"FROM":   true,
	"WHERE":  true,
	"ORDER":  true,
	"BY":     true,
	"ASC":    true,
	"DESC":   true,
	"LIMIT":  true,
}

// tokenize splits a predicate using a whitelist. Anything that is not an
// identifier, keyword, placeholder, number, comparison operator, parenthesis
// or comma is rejected, which rules out quotes, comments and statement
// separators.
func tokenize(src string, keywords map[string]bool) ([]token, error) {
	var toks []token
	n := len(src)
	for i := 0; i < n; {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isIdentStart(c):
			j := i + 1
			for j < n && isIdentChar(src[j]) {
				j++
			}
			word := src[i:j]
			if len(word) > maxIdentifierLen {
				return nil, queryErrf(src, i, "identifier too long")
			}
			if up := strings.ToUpper(word); keywords[up] {
				toks = append(toks, token{tokKeyword, up, i})
			} else {
				toks = append(toks, token{tokIdent, word, i})
			}
			i = j

		case c == '@':
			j := i + 1
			if j >= n || !isIdentStart(src[j]) {
				return nil, queryErrf(src, i, "expected parameter name after @")
			}
			for j < n && isIdentChar(src[j]) {
				j++
			}
			toks = append(toks, token{tokParam, src[i+1 : j], i})
			i = j

		case isDigit(c) || (c == '-' && i+1 < n && isDigit(src[i+1]) && expectsOperand(toks)):
			j := i + 1
			for j < n && isDigit(src[j]) {
				j++
			}
			if j < n && src[j] == '.' {
				j++
				for j < n && isDigit(src[j]) {
					j++
				}
			}
			if j < n && (isIdentStart(src[j]) || src[j] == '.') {
				return nil, queryErrf(src, j, "malformed number")
			}
			if _, err := strconv.ParseFloat(src[i:j], 64); err != nil {
				return nil, queryErrf(src, i, "malformed number")
			}
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j

		case c == '=' || c == '<' || c == '>' || c == '!':
			j := i + 1
			if j < n && (src[j] == '=' || (c == '<' && src[j] == '>')) {
				j++
			}
			op := src[i:j]
			switch op {
			case "=", "==":
				op = "="
			case "!=", "<>":
				op = "<>"
			case "<", "<=", ">", ">=":
			default:
				return nil, queryErrf(src, i, "unsupported operator %q", op)
			}
			toks = append(toks, token{tokOp, op, i})
			i = j

		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++

		default:
			return nil, queryErrf(src, i, "unexpected character %q", c)
		}
	}
	return toks, nil
}

// expectsOperand reports whether a '-' at this point starts a negative number
// rather than following a value.
func expectsOperand(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	switch toks[len(toks)-1].kind {
	case tokOp, tokLParen, tokComma, tokKeyword:
		return true
	}
	return false
}

// ParseQuery reads the textual form
//
//	SELECT col, ... FROM table [WHERE predicate] [ORDER BY col [ASC|DESC], ...] [LIMIT n]
//
// Bind the predicate's placeholders with Query.Param.
func ParseQuery(text string) (Query, error) {
	kw := make(map[string]bool, len(whereKeywords)+len(clauseKeywords))
	for k := range whereKeywords {
		kw[k] = true
	}
	for k := range clauseKeywords {
		kw[k] = true
	}
	toks, err := tokenize(text, kw)
	if err != nil {
		return Query{}, err
	}

	p := &queryParser{src: text, toks: toks}
	var q Query

	p.expectKeyword("SELECT")
	for p.err == nil {
		// * selects the pseudo-columns, same as an empty list
		if _, ok := p.accept(tokStar); !ok {
			q.Select = append(q.Select, p.expectIdent())
		}
		if _, ok := p.accept(tokComma); !ok {
			break
		}
	}
	p.expectKeyword("FROM")
	q.From = p.expectIdent()

	if p.acceptKeyword("WHERE") {
		start := p.offset()
		for p.i < len(p.toks) && !p.peekKeyword("ORDER") && !p.peekKeyword("LIMIT") {
			p.i++
		}
		q.Where = strings.TrimSpace(text[start:p.offset()])
		if q.Where == "" {
			p.fail("empty WHERE clause")
		}
	}
	if p.acceptKeyword("ORDER") {
		p.expectKeyword("BY")
		for p.err == nil {
			o := Order{Field: p.expectIdent()}
			if p.acceptKeyword("DESC") {
				o.Desc = true
			} else {
				p.acceptKeyword("ASC")
			}
			q.OrderBy = append(q.OrderBy, o)
			if _, ok := p.accept(tokComma); !ok {
				break
			}
		}
	}
	if p.acceptKeyword("LIMIT") {
		if t, ok := p.accept(tokNumber); ok {
			n, err := strconv.Atoi(t.text)
			if err != nil || n < 0 {
				p.failAt(t.pos, "invalid LIMIT")
			}
			q.Limit = n
		} else {
			p.fail("expected LIMIT count")
		}
	}
	if p.err == nil && p.i < len(p.toks) {
		p.fail("unexpected %q", p.toks[p.i].text)
	}
	if p.err != nil {
		return Query{}, p.err
	}
	return q, nil
}

type queryParser struct {
	src  string
	toks []token
	i    int
	err  error
}

func (p *queryParser) offset() int {
	if p.i < len(p.toks) {
		return p.toks[p.i].pos
	}
	return len(p.src)
}

func (p *queryParser) fail(format string, args ...any) {
	p.failAt(p.offset(), format, args...)
}

func (p *queryParser) failAt(pos int, format string, args ...any) {
	if p.err == nil {
		p.err = queryErrf(p.src, pos, format, args...)
	}
}

func (p *queryParser) accept(kind tokenKind) (token, bool) {
	if p.err == nil && p.i < len(p.toks) && p.toks[p.i].kind == kind {
		p.i++
		return p.toks[p.i-1], true
	}
	return token{}, false
}

func (p *queryParser) peekKeyword(kw string) bool {
	return p.i < len(p.toks) && p.toks[p.i].kind == tokKeyword && p.toks[p.i].text == kw
}

func (p *queryParser) acceptKeyword(kw string) bool {
	if p.err == nil && p.peekKeyword(kw) {
		p.i++
		return true
	}
	return false
}

func (p *queryParser) expectKeyword(kw string) {
	if !p.acceptKeyword(kw) {
		p.fail("expected %s", kw)
	}
}

func (p *queryParser) expectIdent() string {
	if t, ok := p.accept(tokIdent); ok {
		return t.text
	}
	p.fail("expected identifier")
	return ""
}
