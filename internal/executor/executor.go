// Package executor turns a diagnosis into an advisory remediation plan:
// an ordered action list plus a human-readable summary. Actions carrying SQL
// require operator approval; everything else is a manual step.
package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/aegisdq/aegis/internal/architect"
	"github.com/aegisdq/aegis/internal/storage"
)

// Action statuses.
const (
	StatusPendingApproval = "pending_approval"
	StatusManual          = "manual"
)

const blastRadiusPreview = 10

// Remediation is the executor's output, persisted on the incident.
type Remediation struct {
	Actions     []Action  `json:"actions"`
	Summary     string    `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Action is one remediation step derived from a diagnosis recommendation.
type Action struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Priority    int     `json:"priority"`
	SQL         *string `json:"sql,omitempty"`
	Status      string  `json:"status"`
}

// Executor builds remediation plans.
type Executor struct {
	now func() time.Time
}

// New constructs an Executor.
func New() *Executor {
	return &Executor{now: func() time.Time { return time.Now().UTC() }}
}

// Prepare converts the diagnosis into a remediation plan, preserving
// recommendation order.
func (e *Executor) Prepare(anomaly *storage.Anomaly, diagnosis *architect.Diagnosis) *Remediation {
	actions := make([]Action, 0, len(diagnosis.Recommendations))

	for _, rec := range diagnosis.Recommendations {
		action := Action{
			Type:        rec.Action,
			Description: rec.Description,
			Priority:    rec.Priority,
			Status:      StatusManual,
		}

		if rec.SQL != nil && *rec.SQL != "" {
			action.SQL = rec.SQL
			action.Status = StatusPendingApproval
		}

		actions = append(actions, action)
	}

	return &Remediation{
		Actions:     actions,
		Summary:     formatSummary(anomaly, diagnosis),
		GeneratedAt: e.now(),
	}
}

// formatSummary renders the markdown incident summary shown to operators.
func formatSummary(anomaly *storage.Anomaly, diagnosis *architect.Diagnosis) string {
	lines := []string{
		fmt.Sprintf("**Incident: %s**", titleize(anomaly.Type)),
		"Severity: " + strings.ToUpper(diagnosis.Severity),
		fmt.Sprintf("Confidence: %.0f%%", diagnosis.Confidence*100),
		"",
		"**Root Cause:** " + diagnosis.RootCause,
		"**Source Table:** " + diagnosis.RootCauseTable,
	}

	if len(diagnosis.BlastRadius) > 0 {
		lines = append(lines, fmt.Sprintf("**Blast Radius:** %d downstream tables affected", len(diagnosis.BlastRadius)))

		for i, table := range diagnosis.BlastRadius {
			if i == blastRadiusPreview {
				lines = append(lines, fmt.Sprintf("  ... and %d more", len(diagnosis.BlastRadius)-blastRadiusPreview))

				break
			}

			lines = append(lines, "  - "+table)
		}
	}

	lines = append(lines, "", fmt.Sprintf("**Recommended Actions:** %d", len(diagnosis.Recommendations)))

	for i, rec := range diagnosis.Recommendations {
		lines = append(lines, fmt.Sprintf("  %d. [%s] %s", i+1, rec.Action, rec.Description))
	}

	return strings.Join(lines, "\n")
}

// titleize converts an anomaly type identifier like "schema_drift" into
// "Schema Drift".
func titleize(identifier string) string {
	words := strings.Split(identifier, "_")
	for i, w := range words {
		if w == "" {
			continue
		}

		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}

	return strings.Join(words, " ")
}
