package metastore

import "fmt"

type (
	// Change describes one committed mutation.
	Change struct {
		op    Op
		table string
		key   Value
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
	OpDrop   Op = 3
	OpReset  Op = 4
)

func (chg *Change) Op() Op {
	return chg.op
}

// Table is empty for OpReset.
func (chg *Change) Table() string {
	return chg.table
}

// HasKey is false for table-wide changes.
func (chg *Change) HasKey() bool {
	return !chg.key.IsErase()
}

func (chg *Change) Key() Value {
	return chg.key
}

func (chg *Change) String() string {
	switch {
	case chg.HasKey():
		return fmt.Sprintf("%v %s/%#v", chg.op, chg.table, chg.key)
	case chg.table != "":
		return fmt.Sprintf("%v %s", chg.op, chg.table)
	default:
		return chg.op.String()
	}
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpDrop:
		return "drop"
	case OpReset:
		return "reset"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
