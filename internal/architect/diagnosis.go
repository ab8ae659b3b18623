package architect

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aegisdq/aegis/internal/storage"
)

// Diagnosis is the architect's root-cause analysis of an anomaly. It is
// persisted on the incident as an opaque JSON blob and consumed by the
// executor and report generator.
type Diagnosis struct {
	RootCause       string           `json:"root_cause"`
	RootCauseTable  string           `json:"root_cause_table"`
	BlastRadius     []string         `json:"blast_radius"`
	Severity        string           `json:"severity"`
	Confidence      float64          `json:"confidence"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommendation is one suggested remediation step inside a diagnosis.
type Recommendation struct {
	Action      string  `json:"action"`
	Description string  `json:"description"`
	SQL         *string `json:"sql,omitempty"`
	Priority    int     `json:"priority"`
}

// Validation errors for model output.
var (
	ErrMissingRootCause      = errors.New("diagnosis missing root_cause")
	ErrMissingRootCauseTable = errors.New("diagnosis missing root_cause_table")
)

// ParseDiagnosis decodes and validates a model-produced diagnosis document.
// Required fields must be present; severity and confidence are normalized to
// safe values when the model returns something out of range.
func ParseDiagnosis(raw []byte) (*Diagnosis, error) {
	var d Diagnosis

	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode diagnosis: %w", err)
	}

	if d.RootCause == "" {
		return nil, ErrMissingRootCause
	}

	if d.RootCauseTable == "" {
		return nil, ErrMissingRootCauseTable
	}

	if storage.SeverityRank(d.Severity) == 0 {
		d.Severity = storage.SeverityMedium
	}

	if d.Confidence < 0 {
		d.Confidence = 0
	} else if d.Confidence > 1 {
		d.Confidence = 1
	}

	if d.BlastRadius == nil {
		d.BlastRadius = []string{}
	}

	for i := range d.Recommendations {
		if d.Recommendations[i].Priority <= 0 {
			d.Recommendations[i].Priority = 1
		}
	}

	return &d, nil
}
