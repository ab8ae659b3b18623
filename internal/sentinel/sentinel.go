// Package sentinel implements the deterministic anomaly detectors. Each
// sentinel inspects one monitored table per call and emits at most one
// anomaly. Sentinels are side-effect-free on failure: any connector error is
// logged and the inspection returns nil without writing anything.
package sentinel

import (
	"context"

	"github.com/aegisdq/aegis/internal/connector"
	"github.com/aegisdq/aegis/internal/storage"
)

// Check type identifiers carried on MonitoredTable.CheckTypes.
const (
	CheckSchema    = "schema"
	CheckFreshness = "freshness"
)

// Sentinel is the shared detector contract: inspect one table, return zero or
// one anomaly. A nil result means "nothing to report" for any reason,
// including connector failure.
type Sentinel interface {
	Inspect(ctx context.Context, table *storage.MonitoredTable, conn connector.WarehouseConnector) *storage.Anomaly
}
