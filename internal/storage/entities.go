package storage

import (
	"encoding/json"
	"time"
)

// Severity levels for anomalies and incidents, ordered worst-last so callers
// can compare ranks directly.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// severityRank maps a severity to its escalation rank. Higher is worse.
var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityRank returns the escalation rank of a severity string, or 0 if
// unrecognized (treated as lowest).
func SeverityRank(severity string) int {
	return severityRank[severity]
}

// Anomaly type identifiers.
const (
	AnomalyTypeSchemaDrift        = "schema_drift"
	AnomalyTypeFreshnessViolation = "freshness_violation"
)

// Incident status values. open/investigating/pending_review form the "open
// set" used for dedupe; resolved/dismissed are terminal.
const (
	IncidentStatusOpen          = "open"
	IncidentStatusInvestigating = "investigating"
	IncidentStatusPendingReview = "pending_review"
	IncidentStatusResolved      = "resolved"
	IncidentStatusDismissed     = "dismissed"
)

// OpenIncidentStatuses lists the statuses considered part of the dedupe
// "open set" per the orchestrator's merge rule.
var OpenIncidentStatuses = []string{
	IncidentStatusOpen,
	IncidentStatusInvestigating,
	IncidentStatusPendingReview,
}

type (
	// Connection describes an operator-registered warehouse connection.
	// The URI is stored encrypted at rest (see internal/secure); this struct
	// carries only the ciphertext. The API handlers encrypt it and the
	// connector factory in cmd/aegis decrypts it; the store persists the
	// bytes as given.
	Connection struct {
		ID           string
		Name         string
		Dialect      string
		URIEncrypted []byte
		Active       bool
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// MonitoredTable is a warehouse table enrolled for scanning.
	MonitoredTable struct {
		ID                  string
		ConnectionID        string
		Schema              string
		Name                string
		FQN                 string
		CheckTypes          []string
		FreshnessSLAMinutes *int
		CreatedAt           time.Time
	}

	// SchemaSnapshot is a point-in-time capture of a table's columns.
	SchemaSnapshot struct {
		ID           string
		TableID      string
		Columns      json.RawMessage
		SnapshotHash string
		CapturedAt   time.Time
	}

	// Anomaly is an immutable record of a detected data-quality problem.
	Anomaly struct {
		ID         string
		TableID    string
		Type       string
		Severity   string
		Detail     json.RawMessage
		DetectedAt time.Time
	}

	// Incident tracks the lifecycle of a triggering anomaly through
	// diagnosis, remediation, and operator review.
	Incident struct {
		ID            string
		AnomalyID     string
		TableID       string
		AnomalyType   string
		Status        string
		Severity      string
		Diagnosis     json.RawMessage
		Remediation   json.RawMessage
		Report        json.RawMessage
		BlastRadius   json.RawMessage
		ResolvedAt    *time.Time
		ResolvedBy    *string
		DismissReason *string
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// LineageEdge is a single source→target table relationship discovered
	// from a warehouse query.
	LineageEdge struct {
		ID           string
		SourceFQN    string
		TargetFQN    string
		Relationship string
		Confidence   float64
		QueryHash    string
		FirstSeenAt  time.Time
		LastSeenAt   time.Time
	}
)
