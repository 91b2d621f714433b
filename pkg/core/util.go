package core

import (
	"sort"
	"strings"
)

func sortSlice[T any](s []T, less func(a, b T) bool) {
	sort.SliceStable(s, func(i, j int) bool { return less(s[i], s[j]) })
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CrateName converts a package or target name to the identifier used for
// the extern crate: dashes become underscores.
func CrateName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
