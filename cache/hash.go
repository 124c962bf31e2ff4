// Package cache serves previously computed answers for repeated
// queries. Tier 1 matches the normalized query exactly; tier 2 matches
// query plus execution mode, so a fast answer never masquerades as an
// extended one.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeQuery canonicalizes a user query for cache keying: lower
// case, punctuation stripped, whitespace runs collapsed to single
// spaces. "What's the NE555?"  and "whats the ne555" hash identically.
func NormalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	lastSpace := true // swallow leading whitespace
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// QueryHash returns the hex SHA-256 of the normalized query. Stable
// across processes, safe as a primary key.
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}
