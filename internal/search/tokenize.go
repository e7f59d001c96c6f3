// Package search maintains the full-text index over recorded versions and
// answers queries against it: plain substring/whole-word lookups, regex and
// glob patterns, and change-queries that report which versions added or
// removed a given term.
package search

import (
	"strings"
	"unicode"

	"github.com/chronolog/chronolog/internal/metadb"
)

// Tokenize splits content on non-alphanumeric boundaries and returns one
// metadb.SearchTerm per distinct token, with every position it occurs at
// (0-based word position within the whole file) so a hit can be reported
// alongside enough context to locate it. Tokens keep their original case;
// queries fold at match time when running case-insensitively.
func Tokenize(versionHash, filePath string, content []byte) []metadb.SearchTerm {
	positions := make(map[string][]int)
	var order []string

	pos := 0
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		if _, seen := positions[tok]; !seen {
			order = append(order, tok)
		}
		positions[tok] = append(positions[tok], pos)
		pos++
		cur.Reset()
	}

	for _, r := range string(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	terms := make([]metadb.SearchTerm, 0, len(order))
	for _, tok := range order {
		terms = append(terms, metadb.SearchTerm{
			VersionHash: versionHash,
			FilePath:    filePath,
			Token:       tok,
			Positions:   positions[tok],
		})
	}
	return terms
}
