package connector

import (
	"fmt"

	"github.com/aegisdq/aegis/internal/canonicalization"
)

// Open constructs a connector for a dialect. Dialect aliases are normalized
// first, so "postgresql" and "PostgreSQL" resolve to the same driver.
func Open(dialect, uri string) (WarehouseConnector, error) {
	switch canonicalization.NormalizeDialect(dialect) {
	case "postgres":
		return NewPostgresConnector(uri)
	default:
		return nil, fmt.Errorf("unsupported warehouse dialect %q", dialect)
	}
}
