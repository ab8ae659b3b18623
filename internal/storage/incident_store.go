package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// IncidentFilter narrows an incident listing. Zero values mean "no filter";
// Page and PerPage always apply.
type IncidentFilter struct {
	Status   string
	Severity string
	TableID  string
	Since    *time.Time
	Page     int
	PerPage  int
}

// IncidentStore persists incidents and the state-machine transitions driven
// by the correlation engine.
type IncidentStore interface {
	Create(ctx context.Context, incident *Incident) error
	Get(ctx context.Context, id string) (*Incident, error)
	FindOpenByTableAndType(ctx context.Context, tableID, anomalyType string) (*Incident, error)
	UpdateDiagnosis(ctx context.Context, id string, diagnosis, blastRadius []byte, severity string) error
	UpdateRemediation(ctx context.Context, id string, remediation []byte) error
	UpdateReport(ctx context.Context, id string, report []byte) error
	SetStatus(ctx context.Context, id, status string) error
	EscalateSeverity(ctx context.Context, id, severity string) error
	Resolve(ctx context.Context, id, resolvedBy string) error
	Dismiss(ctx context.Context, id, reason string) error
	List(ctx context.Context, status string) ([]*Incident, error)
	ListFiltered(ctx context.Context, filter IncidentFilter) ([]*Incident, error)
}

// PostgresIncidentStore implements IncidentStore against Postgres.
type PostgresIncidentStore struct {
	db *DB
}

// NewPostgresIncidentStore wraps a pooled connection for incident storage.
func NewPostgresIncidentStore(db *DB) *PostgresIncidentStore {
	return &PostgresIncidentStore{db: db}
}

// Create inserts a new incident row with the status and severity set on incident.
func (s *PostgresIncidentStore) Create(ctx context.Context, incident *Incident) error {
	query := `
		INSERT INTO incidents (id, anomaly_id, table_id, anomaly_type, status, severity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowContext(
		ctx, query,
		incident.ID, incident.AnomalyID, incident.TableID, incident.AnomalyType,
		incident.Status, incident.Severity,
	).Scan(&incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}

	return nil
}

// Get retrieves an incident by ID.
func (s *PostgresIncidentStore) Get(ctx context.Context, id string) (*Incident, error) {
	return s.scanOne(ctx, `
		SELECT id, anomaly_id, table_id, anomaly_type, status, severity,
		       diagnosis, remediation, report, blast_radius,
		       resolved_at, resolved_by, dismiss_reason, created_at, updated_at
		FROM incidents WHERE id = $1
	`, id)
}

// FindOpenByTableAndType implements the dedupe lookup: the most recently
// created incident for (table_id, anomaly_type) still in the open set.
func (s *PostgresIncidentStore) FindOpenByTableAndType(ctx context.Context, tableID, anomalyType string) (*Incident, error) {
	query := `
		SELECT id, anomaly_id, table_id, anomaly_type, status, severity,
		       diagnosis, remediation, report, blast_radius,
		       resolved_at, resolved_by, dismiss_reason, created_at, updated_at
		FROM incidents
		WHERE table_id = $1 AND anomaly_type = $2 AND status = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	return s.scanOne(ctx, query, tableID, anomalyType, pq.Array(OpenIncidentStatuses))
}

func (s *PostgresIncidentStore) scanOne(ctx context.Context, query string, args ...interface{}) (*Incident, error) {
	var i Incident

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&i.ID, &i.AnomalyID, &i.TableID, &i.AnomalyType, &i.Status, &i.Severity,
		&i.Diagnosis, &i.Remediation, &i.Report, &i.BlastRadius,
		&i.ResolvedAt, &i.ResolvedBy, &i.DismissReason, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("query incident: %w", err)
	}

	return &i, nil
}

// UpdateDiagnosis persists the architect's output and adopts its severity, per the
// orchestrator's create path step 2.
func (s *PostgresIncidentStore) UpdateDiagnosis(ctx context.Context, id string, diagnosis, blastRadius []byte, severity string) error {
	return s.exec(ctx, `
		UPDATE incidents SET diagnosis = $1, blast_radius = $2, severity = $3, updated_at = now()
		WHERE id = $4
	`, diagnosis, blastRadius, severity, id)
}

// UpdateRemediation persists the executor's output, per step 3.
func (s *PostgresIncidentStore) UpdateRemediation(ctx context.Context, id string, remediation []byte) error {
	return s.exec(ctx, `UPDATE incidents SET remediation = $1, updated_at = now() WHERE id = $2`, remediation, id)
}

// UpdateReport persists the report generator's output, per step 4.
func (s *PostgresIncidentStore) UpdateReport(ctx context.Context, id string, report []byte) error {
	return s.exec(ctx, `UPDATE incidents SET report = $1, updated_at = now() WHERE id = $2`, report, id)
}

// SetStatus transitions an incident's status without touching any other field.
func (s *PostgresIncidentStore) SetStatus(ctx context.Context, id, status string) error {
	return s.exec(ctx, `UPDATE incidents SET status = $1, updated_at = now() WHERE id = $2`, status, id)
}

// EscalateSeverity implements the merge path's escalation rule: only raises severity,
// never lowers it. The rank comparison happens in the orchestrator; this just writes
// the already-decided value.
func (s *PostgresIncidentStore) EscalateSeverity(ctx context.Context, id, severity string) error {
	return s.exec(ctx, `UPDATE incidents SET severity = $1, updated_at = now() WHERE id = $2`, severity, id)
}

// Resolve transitions an incident to the terminal "resolved" state.
func (s *PostgresIncidentStore) Resolve(ctx context.Context, id, resolvedBy string) error {
	return s.exec(ctx, `
		UPDATE incidents SET status = $1, resolved_at = now(), resolved_by = $2, updated_at = now()
		WHERE id = $3
	`, IncidentStatusResolved, resolvedBy, id)
}

// Dismiss transitions an incident to the terminal "dismissed" state with a reason.
func (s *PostgresIncidentStore) Dismiss(ctx context.Context, id, reason string) error {
	return s.exec(ctx, `
		UPDATE incidents SET status = $1, resolved_at = now(), dismiss_reason = $2, updated_at = now()
		WHERE id = $3
	`, IncidentStatusDismissed, reason, id)
}

func (s *PostgresIncidentStore) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// List returns incidents, optionally filtered by status, newest first.
func (s *PostgresIncidentStore) List(ctx context.Context, status string) ([]*Incident, error) {
	query := `
		SELECT id, anomaly_id, table_id, anomaly_type, status, severity,
		       diagnosis, remediation, report, blast_radius,
		       resolved_at, resolved_by, dismiss_reason, created_at, updated_at
		FROM incidents
	`

	args := make([]interface{}, 0, 1)

	if status != "" {
		query += ` WHERE status = $1`

		args = append(args, status)
	}

	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	incidents := make([]*Incident, 0)

	for rows.Next() {
		var i Incident

		err := rows.Scan(
			&i.ID, &i.AnomalyID, &i.TableID, &i.AnomalyType, &i.Status, &i.Severity,
			&i.Diagnosis, &i.Remediation, &i.Report, &i.BlastRadius,
			&i.ResolvedAt, &i.ResolvedBy, &i.DismissReason, &i.CreatedAt, &i.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan incident row: %w", err)
		}

		incidents = append(incidents, &i)
	}

	return incidents, rows.Err()
}

// ListFiltered returns one page of incidents matching the filter, newest
// first. The WHERE clause is assembled dynamically from the non-zero filter
// fields.
func (s *PostgresIncidentStore) ListFiltered(ctx context.Context, filter IncidentFilter) ([]*Incident, error) {
	query := `
		SELECT id, anomaly_id, table_id, anomaly_type, status, severity,
		       diagnosis, remediation, report, blast_radius,
		       resolved_at, resolved_by, dismiss_reason, created_at, updated_at
		FROM incidents
	`

	var (
		conditions []string
		args       []interface{}
	)

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, clause+" $"+strconv.Itoa(len(args)))
	}

	if filter.Status != "" {
		addCondition("status =", filter.Status)
	}

	if filter.Severity != "" {
		addCondition("severity =", filter.Severity)
	}

	if filter.TableID != "" {
		addCondition("table_id =", filter.TableID)
	}

	if filter.Since != nil {
		addCondition("created_at >=", *filter.Since)
	}

	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}

	args = append(args, filter.PerPage)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	args = append(args, (page-1)*filter.PerPage)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	incidents := make([]*Incident, 0)

	for rows.Next() {
		var i Incident

		err := rows.Scan(
			&i.ID, &i.AnomalyID, &i.TableID, &i.AnomalyType, &i.Status, &i.Severity,
			&i.Diagnosis, &i.Remediation, &i.Report, &i.BlastRadius,
			&i.ResolvedAt, &i.ResolvedBy, &i.DismissReason, &i.CreatedAt, &i.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan incident row: %w", err)
		}

		incidents = append(incidents, &i)
	}

	return incidents, rows.Err()
}
