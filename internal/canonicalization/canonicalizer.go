// Package canonicalization provides deterministic fully-qualified naming and
// schema-snapshot hashing shared across the sentinels, lineage graph, and
// report generator.
//
// Key functions:
//   - BuildFQN: assembles a schema.name fully-qualified table identifier
//   - CanonicalizeColumns: produces a deterministic JSON form of a column set
//   - SnapshotHash: SHA256 of the canonical column form
//
// All hashes use SHA256 for determinism and collision resistance.
package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Column describes one column of a monitored table as captured at scan time.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Ordinal  int    `json:"ordinal"`
}

// BuildFQN assembles a fully-qualified table name from its schema and table
// name: "schema.name". Callers that need a catalog-qualified name should
// prepend "catalog." themselves; this function only joins the two-part form
// used throughout monitored-table identity.
func BuildFQN(schema, name string) string {
	return schema + "." + name
}

// CanonicalizeColumns produces a deterministic JSON encoding of a column set:
// columns sorted by ordinal, keys in a fixed order. Two calls with the same
// logical column set (regardless of input slice order) produce byte-identical
// output, which is the precondition SnapshotHash relies on.
func CanonicalizeColumns(columns []Column) ([]byte, error) {
	sorted := make([]Column, len(columns))
	copy(sorted, columns)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	return json.Marshal(sorted)
}

// SnapshotHash computes the SHA256 hash of a canonicalized column set.
// Returns a 64-character lowercase hex string suitable for storage in
// schema_snapshots.snapshot_hash.
func SnapshotHash(canonical []byte) string {
	return hashSHA256Bytes(canonical)
}

// hashSHA256Bytes computes the SHA256 hash of raw bytes.
func hashSHA256Bytes(input []byte) string {
	hash := sha256.Sum256(input)

	return hex.EncodeToString(hash[:])
}

// hashSHA256 computes the SHA256 hash of the input string.
func hashSHA256(input string) string {
	return hashSHA256Bytes([]byte(input))
}
