package metastore

import (
	"errors"
	"strings"
	"testing"
)

func TestIsSimpleIdentifier(t *testing.T) {
	for _, s := range []string{"a", "_", "foo_bar", "Foo9", strings.Repeat("x", maxIdentifierLen)} {
		if !isSimpleIdentifier(s) {
			t.Errorf("isSimpleIdentifier(%q) = false, wanted true", s)
		}
	}
	for _, s := range []string{"", "9a", "a b", "a-b", "a.b", "a;", `"a"`, "é", strings.Repeat("x", maxIdentifierLen+1)} {
		if isSimpleIdentifier(s) {
			t.Errorf("isSimpleIdentifier(%q) = true, wanted false", s)
		}
	}
}

func TestValidateAttrName(t *testing.T) {
	ensure(validateAttrName("foo"))
	ensure(validateAttrName("ids"))

	var iie *InvalidIdentifierError
	for _, s := range []string{"id", "VALUE", "Id", "a b"} {
		if err := validateAttrName(s); !errors.As(err, &iie) {
			t.Errorf("validateAttrName(%q) = %v, wanted InvalidIdentifierError", s, err)
		}
	}
	ensure(validateTableName("value"))
}

func TestSortedKeys(t *testing.T) {
	deepEqual(t, sortedKeys(map[string]int{"b": 1, "a": 2, "c": 3}), []string{"a", "b", "c"})
	isempty(t, sortedKeys(map[string]int(nil)))
}
