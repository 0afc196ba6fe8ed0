// Package searchkey builds composite sort-key values for token lookups.
//
// A single secondary index keyed on (Subject, SearchKey) serves every
// combination of the client, status and type filter dimensions: the stored
// key joins all three in that fixed order, and a query supplies a prefix of
// however many dimensions it has. The separator must never occur inside a
// dimension value; the values are framework-controlled identifiers and
// enumerations, so this is a layout constraint, not a runtime check.
package searchkey

import "strings"

// Separator joins the filter dimensions inside a search key.
const Separator = "#"

// Encode joins the supplied dimensions in the fixed order client, status,
// type, omitting trailing absent dimensions. The full three-part form is
// what write paths store; shorter forms are query prefixes.
func Encode(clientID, status, tokenType string) string {
	parts := []string{clientID, status, tokenType}
	end := len(parts)
	for end > 0 && parts[end-1] == "" {
		end--
	}
	return strings.Join(parts[:end], Separator)
}
