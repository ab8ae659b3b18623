// Package canonicalization provides dialect-name normalization for
// connections and the SQL parser/connector dispatch table.
package canonicalization

import (
	"strings"
)

// NormalizeDialect standardizes a warehouse dialect identifier so the same
// physical warehouse configured with slightly different spellings
// ("postgresql" vs "postgres", mixed case) dispatches to the same parser and
// connector implementation.
//
// Rules:
//  1. Lowercase.
//  2. "postgresql" → "postgres" (the parser/connector registry keys on the
//     shorter form).
//  3. Everything else passes through unchanged.
func NormalizeDialect(dialect string) string {
	normalized := strings.ToLower(strings.TrimSpace(dialect))

	if normalized == "postgresql" {
		return "postgres"
	}

	return normalized
}
