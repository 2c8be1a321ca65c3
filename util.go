package metastore

import (
	"cmp"
	"slices"
	"strings"
)

const maxIdentifierLen = 128

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSimpleIdentifier(s string) bool {
	if s == "" || len(s) > maxIdentifierLen || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

func isPseudoColumn(name string) bool {
	return strings.EqualFold(name, colID) || strings.EqualFold(name, colValue)
}

func validateTableName(name string) error {
	if !isSimpleIdentifier(name) {
		return &InvalidIdentifierError{What: "table", Name: name}
	}
	return nil
}

func validateAttrName(name string) error {
	if !isSimpleIdentifier(name) {
		return &InvalidIdentifierError{What: "attribute", Name: name}
	}
	if isPseudoColumn(name) {
		return &InvalidIdentifierError{What: "attribute", Name: name, Msg: "reserved for the item's own column"}
	}
	return nil
}
