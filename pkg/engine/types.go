package engine

import "github.com/user/policyguard/pkg/catalog"

// Clause is one segmented unit of policy text. The engine only reads it.
type Clause struct {
	Text         string `json:"text" yaml:"text"`
	SectionLabel string `json:"section_label,omitempty" yaml:"section_label"`
	SourceOffset int    `json:"source_offset,omitempty" yaml:"source_offset"`
}

// AnalyzeRequest is the input of one analysis.
type AnalyzeRequest struct {
	Clauses    []Clause `json:"clauses" yaml:"clauses"`
	Frameworks []string `json:"frameworks" yaml:"frameworks"`
	IncludeCIA bool     `json:"include_cia" yaml:"include_cia"`
}

// Component status values reported in Status.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
	StatusFallback    = "fallback"
)

// Status makes every degradation visible in the result.
type Status struct {
	Semantic     string   `json:"semantic"`
	Risk         string   `json:"risk"`
	Reasoning    string   `json:"reasoning"`
	Degradations []string `json:"degradations,omitempty"`
}

func okStatus() Status {
	return Status{Semantic: StatusOK, Risk: StatusOK, Reasoning: StatusOK}
}

// MissingControl is a control no clause matched semantically.
type MissingControl struct {
	ControlID string           `json:"control_id"`
	Title     string           `json:"title"`
	Category  string           `json:"category"`
	Priority  catalog.Priority `json:"priority"`
	Pillar    catalog.Pillar   `json:"pillar,omitempty"`
}

// WeakClause is a clause with a poor match or advisory wording.
type WeakClause struct {
	ClauseIndex int     `json:"clause_index"`
	Clause      string  `json:"clause"`
	Reason      string  `json:"reason"`
	Score       float64 `json:"score"`
}

// FrameworkScore is one row of the hybrid score table.
type FrameworkScore struct {
	Framework           string  `json:"framework"`
	StructuralScore     float64 `json:"structural_score"`
	SemanticScore       float64 `json:"semantic_score"`
	ReasoningConfidence float64 `json:"reasoning_confidence"`
	CCI                 float64 `json:"cci"`
	Grade               string  `json:"grade"`
}

// HybridSummary carries the fused scores.
type HybridSummary struct {
	OverallCCI float64          `json:"overall_cci"`
	Grade      string           `json:"grade"`
	Frameworks []FrameworkScore `json:"frameworks"`
}

// FrameworkResult is the analysis of one framework.
type FrameworkResult struct {
	FrameworkID   string `json:"framework_id"`
	FrameworkName string `json:"framework_name"`
	Version       string `json:"version,omitempty"`
	Valid         bool   `json:"valid"`
	Error         string `json:"error,omitempty"`

	CompliancePercentage float64          `json:"compliance_percentage"`
	MatchedClauses       int              `json:"matched_clauses"`
	TotalClauses         int              `json:"total_clauses"`
	MatchedControlsCount int              `json:"matched_controls_count"`
	TotalControls        int              `json:"total_controls"`
	MissingControls      []MissingControl `json:"missing_controls"`
	WeakClauses          []WeakClause     `json:"weak_clauses"`

	StructuralScore float64              `json:"structural_score"`
	SemanticScore   float64              `json:"semantic_score"`
	Structural      StructuralReport     `json:"structural"`
	Matches         []ClauseControlMatch `json:"matches"`

	RiskPrediction RiskPrediction `json:"risk_prediction"`
	AuditReadiness AuditReadiness `json:"audit_readiness"`
	Reasoning      Reasoning      `json:"reasoning"`

	CCI    float64 `json:"cci"`
	Grade  string  `json:"grade"`
	Status Status  `json:"status"`
}

// AnalyzeResult is the deterministic output of one analysis: the same
// request against the same catalogs and models always yields an equal value.
type AnalyzeResult struct {
	Frameworks        []string                    `json:"frameworks"`
	ComplianceResults map[string]*FrameworkResult `json:"compliance_results"`
	CIAAnalysis       *CIAReport                  `json:"cia_analysis,omitempty"`
	RiskPrediction    RiskPrediction              `json:"risk_prediction"`
	AuditReadiness    AuditReadiness              `json:"audit_readiness"`
	HybridAnalysis    HybridSummary               `json:"hybrid_analysis"`
	Status            Status                      `json:"status"`
	InvalidFrameworks []string                    `json:"invalid_frameworks,omitempty"`
}
