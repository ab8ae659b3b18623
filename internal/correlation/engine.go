// Package correlation groups anomalies into incidents and drives each
// incident through its lifecycle: dedupe, create-or-merge, diagnosis,
// remediation, report, notification, and operator review.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aegisdq/aegis/internal/architect"
	"github.com/aegisdq/aegis/internal/executor"
	"github.com/aegisdq/aegis/internal/notifier"
	"github.com/aegisdq/aegis/internal/report"
	"github.com/aegisdq/aegis/internal/storage"
)

// Diagnoser is the architect's contract as seen by the engine.
type Diagnoser interface {
	Analyze(ctx context.Context, anomaly *storage.Anomaly) (*architect.Diagnosis, error)
}

// Remediator is the executor's contract as seen by the engine.
type Remediator interface {
	Prepare(anomaly *storage.Anomaly, diagnosis *architect.Diagnosis) *executor.Remediation
}

// Reporter is the report generator's contract as seen by the engine.
type Reporter interface {
	Generate(
		incident *storage.Incident,
		anomaly *storage.Anomaly,
		table *storage.MonitoredTable,
		diagnosis *architect.Diagnosis,
		remediation *executor.Remediation,
	) *report.IncidentReport
}

// Broadcaster is the notifier's contract as seen by the engine.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// ErrNotOpen is returned when an operator action targets an incident that
// has already reached a terminal status.
var ErrNotOpen = errors.New("incident is not open")

// Engine is the per-anomaly state machine. Each HandleAnomaly call commits
// the incident row and its side-effect fields before any notification is
// emitted; notifications are best-effort.
type Engine struct {
	incidents storage.IncidentStore
	tables    storage.MonitoredTableStore
	architect Diagnoser
	executor  Remediator
	reporter  Reporter
	notifier  Broadcaster
	logger    *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	incidents storage.IncidentStore,
	tables storage.MonitoredTableStore,
	diagnoser Diagnoser,
	remediator Remediator,
	reporter Reporter,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		incidents: incidents,
		tables:    tables,
		architect: diagnoser,
		executor:  remediator,
		reporter:  reporter,
		notifier:  broadcaster,
		logger:    logger,
	}
}

// HandleAnomaly routes an anomaly into the incident pipeline: merge into an
// existing open incident for the same (table, type), or create a new one and
// run it through diagnosis, remediation, and reporting.
func (e *Engine) HandleAnomaly(ctx context.Context, anomaly *storage.Anomaly) (*storage.Incident, error) {
	existing, err := e.incidents.FindOpenByTableAndType(ctx, anomaly.TableID, anomaly.Type)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}

	if existing != nil {
		return e.merge(ctx, existing, anomaly)
	}

	return e.create(ctx, anomaly)
}

// merge folds a repeat anomaly into the matching open incident. Severity
// only ever escalates, never downgrades.
func (e *Engine) merge(ctx context.Context, incident *storage.Incident, anomaly *storage.Anomaly) (*storage.Incident, error) {
	severity := incident.Severity
	if storage.SeverityRank(anomaly.Severity) > storage.SeverityRank(severity) {
		severity = anomaly.Severity
	}

	if err := e.incidents.EscalateSeverity(ctx, incident.ID, severity); err != nil {
		return nil, fmt.Errorf("merge anomaly %s: %w", anomaly.ID, err)
	}

	incident.Severity = severity

	e.logger.Info("Merged anomaly into open incident",
		slog.String("anomaly_id", anomaly.ID),
		slog.String("incident_id", incident.ID),
		slog.String("severity", severity),
	)

	e.notifier.Broadcast(notifier.EventIncidentUpdated, map[string]any{
		"incident_id": incident.ID,
		"severity":    severity,
	})

	return incident, nil
}

// create runs the full pipeline for a first-of-its-kind anomaly. Diagnosis,
// remediation, and report failures degrade the incident (the field stays
// null) but never abort it.
func (e *Engine) create(ctx context.Context, anomaly *storage.Anomaly) (*storage.Incident, error) {
	incident := &storage.Incident{
		ID:          uuid.NewString(),
		AnomalyID:   anomaly.ID,
		TableID:     anomaly.TableID,
		AnomalyType: anomaly.Type,
		Status:      storage.IncidentStatusInvestigating,
		Severity:    anomaly.Severity,
	}

	if err := e.incidents.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident for anomaly %s: %w", anomaly.ID, err)
	}

	e.logger.Info("Created incident",
		slog.String("incident_id", incident.ID),
		slog.String("anomaly_id", anomaly.ID),
		slog.String("type", anomaly.Type),
		slog.String("severity", anomaly.Severity),
	)

	diagnosis := e.diagnose(ctx, incident, anomaly)

	var remediation *executor.Remediation
	if diagnosis != nil {
		remediation = e.remediate(ctx, incident, anomaly, diagnosis)
	}

	incident.Status = storage.IncidentStatusPendingReview

	e.generateReport(ctx, incident, anomaly, diagnosis, remediation)

	if err := e.incidents.SetStatus(ctx, incident.ID, storage.IncidentStatusPendingReview); err != nil {
		return nil, fmt.Errorf("finalize incident %s: %w", incident.ID, err)
	}

	e.notifier.Broadcast(notifier.EventIncidentCreated, map[string]any{
		"incident_id": incident.ID,
		"severity":    incident.Severity,
	})

	return incident, nil
}

// diagnose invokes the architect and persists its output. The adopted
// severity never drops below the anomaly's own severity, so a low-confidence
// model response can't silently downgrade an incident.
func (e *Engine) diagnose(ctx context.Context, incident *storage.Incident, anomaly *storage.Anomaly) *architect.Diagnosis {
	diagnosis, err := e.architect.Analyze(ctx, anomaly)
	if err != nil || diagnosis == nil {
		if err != nil {
			e.logger.Error("Diagnosis failed",
				slog.String("incident_id", incident.ID),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}

	if storage.SeverityRank(diagnosis.Severity) < storage.SeverityRank(anomaly.Severity) {
		diagnosis.Severity = anomaly.Severity
	}

	diagnosisJSON, err := json.Marshal(diagnosis)
	if err != nil {
		e.logger.Error("Failed to encode diagnosis",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	blastRadiusJSON, err := json.Marshal(diagnosis.BlastRadius)
	if err != nil {
		e.logger.Error("Failed to encode blast radius",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if err := e.incidents.UpdateDiagnosis(ctx, incident.ID, diagnosisJSON, blastRadiusJSON, diagnosis.Severity); err != nil {
		e.logger.Error("Failed to persist diagnosis",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	incident.Diagnosis = diagnosisJSON
	incident.BlastRadius = blastRadiusJSON
	incident.Severity = diagnosis.Severity

	return diagnosis
}

// remediate invokes the executor and persists its output.
func (e *Engine) remediate(
	ctx context.Context,
	incident *storage.Incident,
	anomaly *storage.Anomaly,
	diagnosis *architect.Diagnosis,
) *executor.Remediation {
	remediation := e.executor.Prepare(anomaly, diagnosis)
	if remediation == nil {
		return nil
	}

	remediationJSON, err := json.Marshal(remediation)
	if err != nil {
		e.logger.Error("Failed to encode remediation",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if err := e.incidents.UpdateRemediation(ctx, incident.ID, remediationJSON); err != nil {
		e.logger.Error("Failed to persist remediation",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	incident.Remediation = remediationJSON

	return remediation
}

// generateReport assembles and persists the incident report.
func (e *Engine) generateReport(
	ctx context.Context,
	incident *storage.Incident,
	anomaly *storage.Anomaly,
	diagnosis *architect.Diagnosis,
	remediation *executor.Remediation,
) {
	table, err := e.tables.Get(ctx, anomaly.TableID)
	if err != nil {
		e.logger.Error("Failed to load table for report",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	doc := e.reporter.Generate(incident, anomaly, table, diagnosis, remediation)
	if doc == nil {
		return
	}

	reportJSON, err := json.Marshal(doc)
	if err != nil {
		e.logger.Error("Failed to encode report",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	if err := e.incidents.UpdateReport(ctx, incident.ID, reportJSON); err != nil {
		e.logger.Error("Failed to persist report",
			slog.String("incident_id", incident.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	incident.Report = reportJSON
}

// Approve resolves an incident after operator review. Only incidents in the
// open set can be resolved; terminal incidents return ErrNotOpen.
func (e *Engine) Approve(ctx context.Context, incidentID, resolvedBy string) (*storage.Incident, error) {
	if err := e.requireOpen(ctx, incidentID); err != nil {
		return nil, err
	}

	if err := e.incidents.Resolve(ctx, incidentID, resolvedBy); err != nil {
		return nil, fmt.Errorf("resolve incident %s: %w", incidentID, err)
	}

	e.notifier.Broadcast(notifier.EventIncidentUpdated, map[string]any{
		"incident_id": incidentID,
		"status":      storage.IncidentStatusResolved,
	})

	return e.incidents.Get(ctx, incidentID)
}

// Dismiss closes an incident as a non-issue, recording the operator's reason.
func (e *Engine) Dismiss(ctx context.Context, incidentID, reason string) (*storage.Incident, error) {
	if err := e.requireOpen(ctx, incidentID); err != nil {
		return nil, err
	}

	if err := e.incidents.Dismiss(ctx, incidentID, reason); err != nil {
		return nil, fmt.Errorf("dismiss incident %s: %w", incidentID, err)
	}

	e.notifier.Broadcast(notifier.EventIncidentUpdated, map[string]any{
		"incident_id": incidentID,
		"status":      storage.IncidentStatusDismissed,
	})

	return e.incidents.Get(ctx, incidentID)
}

// requireOpen verifies the incident exists and is still in the open set.
func (e *Engine) requireOpen(ctx context.Context, incidentID string) error {
	incident, err := e.incidents.Get(ctx, incidentID)
	if err != nil {
		return err
	}

	for _, status := range storage.OpenIncidentStatuses {
		if incident.Status == status {
			return nil
		}
	}

	return fmt.Errorf("%w: incident %s is %s", ErrNotOpen, incidentID, incident.Status)
}
