// Package domain defines the core types of the safety assessment pipeline:
// hazards, analysis results, retrieved knowledge passages, reports, and
// conversation messages. Types here carry no behavior beyond validation and
// small derived accessors; components never mutate values they consume.
package domain

// Severity classifies how dangerous a single hazard is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Valid checks if the severity level is one of the three known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Weight returns the numeric risk weight used for overall risk scoring.
// Unrecognized severities score as low.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Hazard is a single identified safety issue on a construction site.
type Hazard struct {
	HazardType  string   `json:"hazard_type"`
	Location    string   `json:"location"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"` // 0-1
}

// AnalysisResult is the outcome of one image analysis invocation.
//
// Degraded marks a deliberate partial-failure outcome: the model responded
// but its output could not be parsed, so the result carries a placeholder
// hazard instead of failing the pipeline. Degraded results still report
// Success = true so report generation can proceed.
type AnalysisResult struct {
	Success  bool     `json:"success"`
	Hazards  []Hazard `json:"hazards"`
	Summary  string   `json:"summary"`
	Error    string   `json:"error,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
}

// RetrievedDocument is one knowledge-base passage returned by similarity
// search. Immutable once produced.
type RetrievedDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
