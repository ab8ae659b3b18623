// Package architect performs root-cause analysis on anomalies. The primary
// path builds a context-rich prompt and asks an external language model for a
// structured diagnosis; when the model is unavailable or returns garbage, a
// deterministic rule-based diagnosis takes its place.
package architect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aegisdq/aegis/internal/lineage"
	"github.com/aegisdq/aegis/internal/sentinel"
	"github.com/aegisdq/aegis/internal/storage"
)

const (
	lineagePromptDepth = 3
	fallbackBlastDepth = 10
	historyLimit       = 5
)

// LLMClient is the narrow model-adapter contract. Diagnose returns the raw
// JSON diagnosis document; all retry, backoff, and timeout policy lives
// inside the adapter.
type LLMClient interface {
	Diagnose(ctx context.Context, prompt string) ([]byte, error)
}

// LineageProvider is the slice of the lineage graph the architect needs for
// prompt enrichment and fallback blast-radius computation.
type LineageProvider interface {
	Upstream(ctx context.Context, table string, depth int) ([]lineage.Node, error)
	Downstream(ctx context.Context, table string, depth int) ([]lineage.Node, error)
}

// Architect diagnoses anomalies.
type Architect struct {
	llm       LLMClient
	graph     LineageProvider
	tables    storage.MonitoredTableStore
	anomalies storage.AnomalyStore
	logger    *slog.Logger
}

// New constructs an Architect. llm may be nil, in which case every analysis
// takes the rule-based path.
func New(
	llm LLMClient,
	graph LineageProvider,
	tables storage.MonitoredTableStore,
	anomalies storage.AnomalyStore,
	logger *slog.Logger,
) *Architect {
	return &Architect{
		llm:       llm,
		graph:     graph,
		tables:    tables,
		anomalies: anomalies,
		logger:    logger,
	}
}

// Analyze produces a diagnosis for the anomaly. The returned diagnosis is
// never nil on a nil error: model failures fall through to the rule-based
// fallback rather than surfacing to the caller.
func (a *Architect) Analyze(ctx context.Context, anomaly *storage.Anomaly) (*Diagnosis, error) {
	table, err := a.tables.Get(ctx, anomaly.TableID)
	if err != nil {
		return nil, fmt.Errorf("load table for anomaly %s: %w", anomaly.ID, err)
	}

	if a.llm != nil {
		prompt := a.buildPrompt(ctx, anomaly, table)

		raw, err := a.llm.Diagnose(ctx, prompt)
		if err == nil {
			diagnosis, parseErr := ParseDiagnosis(raw)
			if parseErr == nil {
				return diagnosis, nil
			}

			a.logger.Warn("Failed to parse model diagnosis, falling back to rules",
				slog.String("anomaly_id", anomaly.ID),
				slog.String("error", parseErr.Error()),
			)
		} else {
			a.logger.Warn("Model diagnosis unavailable, falling back to rules",
				slog.String("anomaly_id", anomaly.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return a.ruleBasedFallback(ctx, anomaly, table), nil
}

// buildPrompt assembles the model prompt: the anomaly itself, the table's
// lineage neighborhood, and the table's recent anomaly history.
func (a *Architect) buildPrompt(ctx context.Context, anomaly *storage.Anomaly, table *storage.MonitoredTable) string {
	var sections []string

	sections = append(sections, fmt.Sprintf("## Anomaly\nType: %s\nTable: %s", anomaly.Type, table.FQN))
	sections = append(sections, a.describeDetail(anomaly))
	sections = append(sections, "Detected: "+anomaly.DetectedAt.UTC().Format(time.RFC3339))

	if section := a.lineageSection(ctx, table.FQN); section != "" {
		sections = append(sections, section)
	}

	if section := a.historySection(ctx, anomaly); section != "" {
		sections = append(sections, section)
	}

	return strings.Join(sections, "\n\n")
}

// describeDetail renders the anomaly's structured detail. Schema drift gets
// a per-change bullet list; everything else is included as indented JSON.
func (a *Architect) describeDetail(anomaly *storage.Anomaly) string {
	if anomaly.Type == storage.AnomalyTypeSchemaDrift {
		var changes []sentinel.SchemaChange

		if err := json.Unmarshal(anomaly.Detail, &changes); err == nil {
			lines := make([]string, 0, len(changes))

			for _, c := range changes {
				line := fmt.Sprintf("- %s: column `%s`", c.Change, c.Column)
				if c.OldType != "" {
					line += fmt.Sprintf(" type %s -> %s", c.OldType, c.NewType)
				}

				lines = append(lines, line)
			}

			return "Changes:\n" + strings.Join(lines, "\n")
		}
	}

	var pretty []byte

	var decoded any
	if err := json.Unmarshal(anomaly.Detail, &decoded); err == nil {
		pretty, _ = json.MarshalIndent(decoded, "", "  ")
	}

	if pretty == nil {
		pretty = anomaly.Detail
	}

	return "Detail: " + string(pretty)
}

// lineageSection renders the table's upstream chain and downstream set, both
// capped at three hops. Returns "" when the table has no known lineage.
func (a *Architect) lineageSection(ctx context.Context, fqn string) string {
	if a.graph == nil {
		return ""
	}

	upstream, err := a.graph.Upstream(ctx, fqn, lineagePromptDepth)
	if err != nil {
		a.logger.Debug("Could not load upstream lineage for prompt", slog.String("error", err.Error()))

		return ""
	}

	downstream, err := a.graph.Downstream(ctx, fqn, lineagePromptDepth)
	if err != nil {
		a.logger.Debug("Could not load downstream lineage for prompt", slog.String("error", err.Error()))

		return ""
	}

	if len(upstream) == 0 && len(downstream) == 0 {
		return ""
	}

	var parts []string

	if len(upstream) > 0 {
		names := make([]string, len(upstream))
		for i, n := range upstream {
			names[i] = n.FQN
		}

		parts = append(parts, "Upstream: "+strings.Join(names, " -> "))
	}

	parts = append(parts, fqn)

	if len(downstream) > 0 {
		names := make([]string, len(downstream))
		for i, n := range downstream {
			names[i] = n.FQN
		}

		parts = append(parts, "Downstream: "+strings.Join(names, ", "))
	}

	return "## Lineage\n" + strings.Join(parts, " -> ")
}

// historySection renders up to five prior anomalies for the same table,
// newest first, excluding the anomaly under analysis.
func (a *Architect) historySection(ctx context.Context, anomaly *storage.Anomaly) string {
	recent, err := a.anomalies.RecentForTable(ctx, anomaly.TableID, anomaly.ID, historyLimit)
	if err != nil {
		a.logger.Debug("Could not load anomaly history for prompt", slog.String("error", err.Error()))

		return ""
	}

	if len(recent) == 0 {
		return ""
	}

	lines := make([]string, len(recent))
	for i, prior := range recent {
		lines[i] = fmt.Sprintf("- %s (%s) at %s", prior.Type, prior.Severity, prior.DetectedAt.UTC().Format(time.RFC3339))
	}

	return "## Recent History\n" + strings.Join(lines, "\n")
}

// ruleBasedFallback is the deterministic diagnosis used when no model result
// is available. Blast radius still comes from lineage when the graph is
// reachable; a lineage failure degrades to an empty radius.
func (a *Architect) ruleBasedFallback(ctx context.Context, anomaly *storage.Anomaly, table *storage.MonitoredTable) *Diagnosis {
	blastRadius := []string{}

	if a.graph != nil {
		downstream, err := a.graph.Downstream(ctx, table.FQN, fallbackBlastDepth)
		if err == nil {
			for _, n := range downstream {
				blastRadius = append(blastRadius, n.FQN)
			}
		} else {
			a.logger.Debug("Could not compute fallback blast radius", slog.String("error", err.Error()))
		}
	}

	return &Diagnosis{
		RootCause:      "Automated analysis unavailable. Manual investigation required.",
		RootCauseTable: table.FQN,
		BlastRadius:    blastRadius,
		Severity:       anomaly.Severity,
		Confidence:     0.0,
		Recommendations: []Recommendation{{
			Action:      "investigate",
			Description: "Check upstream tables for recent changes",
			Priority:    1,
		}},
	}
}
