package metastore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is matched by NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")

	ErrClosed = errors.New("metastore: database closed")
)

// DataTypeMismatchError means a key or attribute value's kind disagrees with
// the kind recorded when the table or attribute was first created.
type DataTypeMismatchError struct {
	Table    string
	Name     string // empty when the table key is at fault
	Got      Kind
	Recorded Kind
	Value    Value // offending literal, Erase if unknown
}

func (e *DataTypeMismatchError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Name != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Name)
	}
	buf.WriteString(": data type mismatch: got ")
	buf.WriteString(e.Got.String())
	if !e.Value.IsErase() {
		buf.WriteByte(' ')
		buf.WriteString(e.Value.GoString())
	}
	if e.Name == "" {
		buf.WriteString(", table keys are ")
	} else {
		buf.WriteString(", attribute is ")
	}
	buf.WriteString(e.Recorded.String())
	return buf.String()
}

// InvalidIdentifierError rejects a table, attribute or parameter name that is
// not a simple identifier, or is reserved.
type InvalidIdentifierError struct {
	What string
	Name string
	Msg  string
}

func (e *InvalidIdentifierError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "must be letters, digits and underscores, not starting with a digit"
	}
	return fmt.Sprintf("invalid %s name %q: %s", e.What, e.Name, msg)
}

// OversizedValueError rejects a long string reaching MaxLongStringLen, or a
// string key or attribute value longer than MaxValueLen characters.
type OversizedValueError struct {
	ItemID ItemID // long strings only
	Table  string // interned values only, filled in by Define
	Name   string // empty for a table key
	Len    int
	Max    int // longest accepted length
}

func (e *OversizedValueError) Error() string {
	switch {
	case e.ItemID != 0:
		return fmt.Sprintf("long string %d/%s: length %d exceeds max %d", e.ItemID, e.Name, e.Len, e.Max)
	case e.Table == "":
		return fmt.Sprintf("value of length %d exceeds max %d", e.Len, e.Max)
	case e.Name == "":
		return fmt.Sprintf("%s: key of length %d exceeds max %d", e.Table, e.Len, e.Max)
	default:
		return fmt.Sprintf("%s.%s: value of length %d exceeds max %d", e.Table, e.Name, e.Len, e.Max)
	}
}

// NotFoundError is only returned by strict call sites; read paths report
// absence through their results instead.
type NotFoundError struct {
	What string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// BackendError wraps a failure reported by the backing store.
type BackendError struct {
	Op  string
	SQL string
	Err error
}

func backendErr(op, sql string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{op, sql, err}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Error() string {
	var buf strings.Builder
	buf.WriteString("metastore: ")
	buf.WriteString(e.Op)
	if e.SQL != "" {
		buf.WriteString(" [")
		buf.WriteString(abbrevSQL(e.SQL))
		buf.WriteByte(']')
	}
	buf.WriteString(": ")
	buf.WriteString(e.Err.Error())
	return buf.String()
}

// ProtocolError signals misuse of a Session, e.g. closing it with writes
// still staged. It is raised as a panic.
type ProtocolError struct {
	Session string
	Pending int
	Msg     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("metastore: session %s: %s (%d staged statements)", e.Session, e.Msg, e.Pending)
}

// QueryError reports a malformed query description.
type QueryError struct {
	Where string
	Pos   int
	Msg   string
}

func queryErrf(where string, pos int, format string, args ...any) error {
	return &QueryError{where, pos, fmt.Sprintf(format, args...)}
}

func (e *QueryError) Error() string {
	if e.Where == "" {
		return "invalid query: " + e.Msg
	}
	return fmt.Sprintf("invalid query: %s at offset %d in %q", e.Msg, e.Pos, e.Where)
}

func abbrevSQL(sql string) string {
	const maxLen = 160
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > maxLen {
		return sql[:maxLen] + "..."
	}
	return sql
}
