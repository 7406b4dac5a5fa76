package datastore

import "strings"

// NormalizeName lowercases, trims and collapses inner whitespace. Reference
// entities are keyed by normalized names so cosmetic variants from the source
// (or from user queries) map to one identity.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
