// Package api provides the HTTP API server for the Aegis service.
package api

import (
	"encoding/json"
	"time"

	"github.com/aegisdq/aegis/internal/scanner"
	"github.com/aegisdq/aegis/internal/storage"
)

type (
	// HealthResponse is the liveness document.
	HealthResponse struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Version string `json:"version"`
		Uptime  string `json:"uptime,omitempty"`
	}

	// StatusResponse reports background-driver and event-stream state.
	StatusResponse struct {
		Scanner          string `json:"scanner"`
		WebsocketClients int    `json:"websocket_clients"` //nolint: tagliatelle
	}

	// ConnectionRequest is the create/update payload for a connection. The
	// URI arrives in plaintext and is encrypted before it touches storage.
	ConnectionRequest struct {
		Name    string `json:"name"`
		Dialect string `json:"dialect"`
		URI     string `json:"uri"`
		Active  *bool  `json:"active,omitempty"`
	}

	// ConnectionResponse is the API view of a connection. The URI is never
	// echoed back.
	ConnectionResponse struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Dialect   string    `json:"dialect"`
		Active    bool      `json:"active"`
		CreatedAt time.Time `json:"created_at"` //nolint: tagliatelle
		UpdatedAt time.Time `json:"updated_at"` //nolint: tagliatelle
	}

	// TestConnectionResponse reports a live connectivity probe.
	TestConnectionResponse struct {
		Success    bool   `json:"success"`
		Connection string `json:"connection"`
	}

	// RediscoveryResponse lists catalog deltas for a connection.
	RediscoveryResponse struct {
		Connection  string               `json:"connection"`
		Deltas      []scanner.TableDelta `json:"deltas"`
		TotalDeltas int                  `json:"total_deltas"` //nolint: tagliatelle
	}

	// TableRequest enrolls a table for monitoring.
	TableRequest struct {
		ConnectionID        string   `json:"connection_id"` //nolint: tagliatelle
		Schema              string   `json:"schema"`
		Name                string   `json:"name"`
		CheckTypes          []string `json:"check_types"`                     //nolint: tagliatelle
		FreshnessSLAMinutes *int     `json:"freshness_sla_minutes,omitempty"` //nolint: tagliatelle
	}

	// TableUpdateRequest modifies a table's check configuration.
	TableUpdateRequest struct {
		CheckTypes          []string `json:"check_types,omitempty"`           //nolint: tagliatelle
		FreshnessSLAMinutes *int     `json:"freshness_sla_minutes,omitempty"` //nolint: tagliatelle
	}

	// TableResponse is the API view of a monitored table.
	TableResponse struct {
		ID                  string    `json:"id"`
		ConnectionID        string    `json:"connection_id"` //nolint: tagliatelle
		Schema              string    `json:"schema"`
		Name                string    `json:"name"`
		FQN                 string    `json:"fqn"`
		CheckTypes          []string  `json:"check_types"`                     //nolint: tagliatelle
		FreshnessSLAMinutes *int      `json:"freshness_sla_minutes,omitempty"` //nolint: tagliatelle
		CreatedAt           time.Time `json:"created_at"`                      //nolint: tagliatelle
	}

	// SnapshotResponse is one schema snapshot in a table's history.
	SnapshotResponse struct {
		ID           string          `json:"id"`
		Columns      json.RawMessage `json:"columns"`
		SnapshotHash string          `json:"snapshot_hash"` //nolint: tagliatelle
		CapturedAt   time.Time       `json:"captured_at"`   //nolint: tagliatelle
	}

	// IncidentResponse is the API view of an incident. The diagnosis,
	// remediation, report, and blast-radius blobs nest as raw JSON.
	IncidentResponse struct {
		ID            string          `json:"id"`
		AnomalyID     string          `json:"anomaly_id"` //nolint: tagliatelle
		TableID       string          `json:"table_id"`   //nolint: tagliatelle
		Type          string          `json:"type"`
		Status        string          `json:"status"`
		Severity      string          `json:"severity"`
		Diagnosis     json.RawMessage `json:"diagnosis,omitempty"`
		Remediation   json.RawMessage `json:"remediation,omitempty"`
		BlastRadius   json.RawMessage `json:"blast_radius,omitempty"` //nolint: tagliatelle
		ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`  //nolint: tagliatelle
		ResolvedBy    *string         `json:"resolved_by,omitempty"`  //nolint: tagliatelle
		DismissReason *string         `json:"dismiss_reason,omitempty"` //nolint: tagliatelle
		CreatedAt     time.Time       `json:"created_at"`             //nolint: tagliatelle
		UpdatedAt     time.Time       `json:"updated_at"`             //nolint: tagliatelle
	}

	// IncidentListResponse is the paginated incident listing.
	IncidentListResponse struct {
		Incidents []IncidentResponse `json:"incidents"`
		Page      int                `json:"page"`
		PerPage   int                `json:"per_page"` //nolint: tagliatelle
	}

	// ApproveRequest resolves an incident.
	ApproveRequest struct {
		ResolvedBy string `json:"resolved_by,omitempty"` //nolint: tagliatelle
	}

	// DismissRequest dismisses an incident with a reason.
	DismissRequest struct {
		Reason string `json:"reason"`
	}

	// LineageNodesResponse wraps a traversal result.
	LineageNodesResponse struct {
		Table string        `json:"table"`
		Nodes []LineageNode `json:"nodes"`
	}

	// LineageNode is one hop in a traversal response.
	LineageNode struct {
		FQN        string  `json:"fqn"`
		Depth      int     `json:"depth"`
		Confidence float64 `json:"confidence"`
	}
)

func toConnectionResponse(c *storage.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:        c.ID,
		Name:      c.Name,
		Dialect:   c.Dialect,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toTableResponse(t *storage.MonitoredTable) TableResponse {
	return TableResponse{
		ID:                  t.ID,
		ConnectionID:        t.ConnectionID,
		Schema:              t.Schema,
		Name:                t.Name,
		FQN:                 t.FQN,
		CheckTypes:          t.CheckTypes,
		FreshnessSLAMinutes: t.FreshnessSLAMinutes,
		CreatedAt:           t.CreatedAt,
	}
}

func toIncidentResponse(i *storage.Incident) IncidentResponse {
	return IncidentResponse{
		ID:            i.ID,
		AnomalyID:     i.AnomalyID,
		TableID:       i.TableID,
		Type:          i.AnomalyType,
		Status:        i.Status,
		Severity:      i.Severity,
		Diagnosis:     i.Diagnosis,
		Remediation:   i.Remediation,
		BlastRadius:   i.BlastRadius,
		ResolvedAt:    i.ResolvedAt,
		ResolvedBy:    i.ResolvedBy,
		DismissReason: i.DismissReason,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}
