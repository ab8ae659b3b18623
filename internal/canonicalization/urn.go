// Package canonicalization provides fully-qualified-name parsing and
// query-hash generation for lineage edges.
package canonicalization

import (
	"errors"
	"strings"
)

// ErrFQNEmpty is returned when ParseFQN is given an empty string.
var ErrFQNEmpty = errors.New("fqn cannot be empty")

const queryHashLen = 16

// ParseFQN splits a fully-qualified table name ("schema.name" or
// "catalog.schema.name") into its dot-separated parts. It does not validate
// the number of parts beyond requiring at least one non-empty component.
func ParseFQN(fqn string) ([]string, error) {
	if strings.TrimSpace(fqn) == "" {
		return nil, ErrFQNEmpty
	}

	return strings.Split(fqn, "."), nil
}

// QueryHash computes the truncated SHA256 digest of a SQL statement used to
// identify the query that produced a lineage edge. Matches the 16-hex-char
// truncation used by the warehouse-side lineage refresher.
func QueryHash(sql string) string {
	full := hashSHA256(sql)

	return full[:queryHashLen]
}
