// Package report assembles the canonical incident-report document from the
// pipeline's outputs. Generation is deterministic: the same incident,
// anomaly, diagnosis, and remediation always produce the same report apart
// from the generation timestamp.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aegisdq/aegis/internal/architect"
	"github.com/aegisdq/aegis/internal/executor"
	"github.com/aegisdq/aegis/internal/storage"
)

// typeTitles maps anomaly types to their human-readable title fragments.
// "freshness_breach" is a legacy alias accepted for compatibility; the
// sentinels only ever emit "freshness_violation".
var typeTitles = map[string]string{
	storage.AnomalyTypeSchemaDrift:        "Schema Drift",
	storage.AnomalyTypeFreshnessViolation: "Freshness Breach",
	"freshness_breach":                    "Freshness Breach",
}

type (
	// IncidentReport is the canonical, versionable incident document served
	// to operators and downstream tooling.
	IncidentReport struct {
		IncidentID         string              `json:"incident_id"`
		Title              string              `json:"title"`
		Severity           string              `json:"severity"`
		Status             string              `json:"status"`
		GeneratedAt        time.Time           `json:"generated_at"`
		Summary            string              `json:"summary"`
		AnomalyDetails     AnomalyDetails      `json:"anomaly_details"`
		RootCause          RootCause           `json:"root_cause"`
		BlastRadius        BlastRadius         `json:"blast_radius"`
		RecommendedActions []RecommendedAction `json:"recommended_actions"`
		Timeline           []TimelineEvent     `json:"timeline"`
	}

	// AnomalyDetails captures what was detected and where.
	AnomalyDetails struct {
		Type       string            `json:"type"`
		Table      string            `json:"table"`
		DetectedAt time.Time         `json:"detected_at"`
		Changes    []json.RawMessage `json:"changes"`
	}

	// RootCause is the diagnosis summary carried on the report.
	RootCause struct {
		Explanation string  `json:"explanation"`
		SourceTable string  `json:"source_table"`
		Confidence  float64 `json:"confidence"`
	}

	// BlastRadius summarizes downstream impact.
	BlastRadius struct {
		TotalAffected  int      `json:"total_affected"`
		AffectedTables []string `json:"affected_tables"`
	}

	// RecommendedAction is one remediation step on the report.
	RecommendedAction struct {
		Action      string `json:"action"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
		Status      string `json:"status"`
	}

	// TimelineEvent is one chronological entry in the incident's history.
	TimelineEvent struct {
		Timestamp time.Time `json:"timestamp"`
		Event     string    `json:"event"`
	}
)

// Generator builds incident reports.
type Generator struct {
	now func() time.Time
}

// NewGenerator constructs a Generator.
func NewGenerator() *Generator {
	return &Generator{now: func() time.Time { return time.Now().UTC() }}
}

// Generate assembles the report. diagnosis and remediation may be nil; the
// report then carries the "analysis unavailable" root cause and an empty
// action list.
func (g *Generator) Generate(
	incident *storage.Incident,
	anomaly *storage.Anomaly,
	table *storage.MonitoredTable,
	diagnosis *architect.Diagnosis,
	remediation *executor.Remediation,
) *IncidentReport {
	typeLabel := titleForType(anomaly.Type)
	rootCause := buildRootCause(diagnosis, table.FQN)
	blastRadius := buildBlastRadius(diagnosis)

	return &IncidentReport{
		IncidentID:         incident.ID,
		Title:              fmt.Sprintf("%s on %s", typeLabel, table.FQN),
		Severity:           incident.Severity,
		Status:             incident.Status,
		GeneratedAt:        g.now(),
		Summary:            buildSummary(typeLabel, table.FQN, incident.Severity, rootCause, blastRadius),
		AnomalyDetails:     buildAnomalyDetails(anomaly, table.FQN),
		RootCause:          rootCause,
		BlastRadius:        blastRadius,
		RecommendedActions: buildActions(remediation),
		Timeline:           buildTimeline(anomaly, incident, table.FQN, diagnosis, remediation),
	}
}

// titleForType maps an anomaly type to its title fragment, title-casing
// unknown types.
func titleForType(anomalyType string) string {
	if label, ok := typeTitles[anomalyType]; ok {
		return label
	}

	words := strings.Split(anomalyType, "_")
	for i, w := range words {
		if w == "" {
			continue
		}

		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}

	return strings.Join(words, " ")
}

// buildAnomalyDetails normalizes the detail blob into a change list: a JSON
// array is used as-is, anything else is wrapped in a one-element list.
func buildAnomalyDetails(anomaly *storage.Anomaly, fqn string) AnomalyDetails {
	var changes []json.RawMessage

	if err := json.Unmarshal(anomaly.Detail, &changes); err != nil {
		changes = []json.RawMessage{json.RawMessage(anomaly.Detail)}
	}

	return AnomalyDetails{
		Type:       anomaly.Type,
		Table:      fqn,
		DetectedAt: anomaly.DetectedAt,
		Changes:    changes,
	}
}

func buildRootCause(diagnosis *architect.Diagnosis, fqn string) RootCause {
	if diagnosis == nil {
		return RootCause{
			Explanation: "Analysis unavailable",
			SourceTable: fqn,
			Confidence:  0,
		}
	}

	return RootCause{
		Explanation: diagnosis.RootCause,
		SourceTable: diagnosis.RootCauseTable,
		Confidence:  diagnosis.Confidence,
	}
}

func buildBlastRadius(diagnosis *architect.Diagnosis) BlastRadius {
	if diagnosis == nil {
		return BlastRadius{TotalAffected: 0, AffectedTables: []string{}}
	}

	return BlastRadius{
		TotalAffected:  len(diagnosis.BlastRadius),
		AffectedTables: diagnosis.BlastRadius,
	}
}

func buildActions(remediation *executor.Remediation) []RecommendedAction {
	if remediation == nil {
		return []RecommendedAction{}
	}

	actions := make([]RecommendedAction, len(remediation.Actions))
	for i, a := range remediation.Actions {
		actions[i] = RecommendedAction{
			Action:      a.Type,
			Description: a.Description,
			Priority:    a.Priority,
			Status:      a.Status,
		}
	}

	return actions
}

// buildTimeline lists the incident's milestones in chronological order.
func buildTimeline(
	anomaly *storage.Anomaly,
	incident *storage.Incident,
	fqn string,
	diagnosis *architect.Diagnosis,
	remediation *executor.Remediation,
) []TimelineEvent {
	events := []TimelineEvent{
		{
			Timestamp: anomaly.DetectedAt,
			Event:     fmt.Sprintf("Anomaly detected: %s on %s", titleForType(anomaly.Type), fqn),
		},
		{
			Timestamp: incident.CreatedAt,
			Event:     fmt.Sprintf("Incident created (severity: %s)", incident.Severity),
		},
	}

	if diagnosis != nil {
		events = append(events, TimelineEvent{
			Timestamp: incident.CreatedAt,
			Event: fmt.Sprintf("Root cause identified: %s (confidence: %.0f%%)",
				diagnosis.RootCause, diagnosis.Confidence*100),
		})
	}

	if remediation != nil {
		events = append(events, TimelineEvent{
			Timestamp: remediation.GeneratedAt,
			Event:     fmt.Sprintf("Remediation plan generated: %d action(s)", len(remediation.Actions)),
		})
	}

	return events
}

// buildSummary composes the short human-readable paragraph at the top of the
// report.
func buildSummary(typeLabel, fqn, severity string, rootCause RootCause, blastRadius BlastRadius) string {
	parts := []string{fmt.Sprintf("%s detected on %s (%s severity).", typeLabel, fqn, severity)}

	if rootCause.Confidence > 0 {
		parts = append(parts, fmt.Sprintf("Root cause: %s.", rootCause.Explanation))
	} else {
		parts = append(parts, "Root cause analysis unavailable.")
	}

	if blastRadius.TotalAffected > 0 {
		parts = append(parts, fmt.Sprintf("%d downstream table(s) affected.", blastRadius.TotalAffected))
	}

	return strings.Join(parts, " ")
}
