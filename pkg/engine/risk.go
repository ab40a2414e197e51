package engine

import (
	"context"
	"fmt"
	"time"
)

// Risk levels, in classifier output order.
const (
	RiskLow     = "Low"
	RiskMedium  = "Medium"
	RiskHigh    = "High"
	RiskUnknown = "Unknown"
)

var riskLevels = []string{RiskLow, RiskMedium, RiskHigh}

// Classifier maps a feature vector to probabilities over Low, Medium, High.
type Classifier interface {
	Predict(ctx context.Context, features []float64) ([]float64, error)
}

// RiskFeatureVector is the classifier input.
type RiskFeatureVector struct {
	MissingControls        float64 `json:"missing_controls_count"`
	ImbalanceScore         float64 `json:"cia_imbalance_score"`
	WeakStatementFrequency float64 `json:"weak_statement_frequency"`
	CoveragePct            float64 `json:"compliance_coverage_pct"`
}

func (v RiskFeatureVector) slice() []float64 {
	return []float64{v.MissingControls, v.ImbalanceScore, v.WeakStatementFrequency, v.CoveragePct}
}

// RiskPrediction is the audit-risk verdict for one framework.
type RiskPrediction struct {
	RiskLevel               string             `json:"risk_level"`
	Confidence              float64            `json:"confidence"`
	ProbabilityDistribution map[string]float64 `json:"probability_distribution"`
	Recommendations         []string           `json:"recommendations"`
	Features                RiskFeatureVector  `json:"features"`
}

// AuditReadiness converts the risk distribution into a readiness score.
type AuditReadiness struct {
	Score          float64 `json:"audit_readiness_score"`
	Level          string  `json:"readiness_level"`
	Recommendation string  `json:"recommendation"`
}

var readinessAdvice = map[string]string{
	"Audit Ready":  "Your compliance documentation is audit-ready. Maintain current standards.",
	"Mostly Ready": "Address minor gaps and strengthen weak areas before audit.",
	"Preparing":    "Significant work needed. Focus on critical controls and coverage.",
	"Not Ready":    "Major gaps identified. Comprehensive remediation required before audit.",
	RiskUnknown:    "Audit readiness could not be estimated because the risk model is unavailable.",
}

// BuildRiskFeatures assembles the classifier input. Coverage averages the
// structural and semantic scores, or uses the structural score alone when
// the semantic layer is degraded.
func BuildRiskFeatures(structural StructuralReport, semantic SemanticReport, cia CIAReport, totalClauses int) RiskFeatureVector {
	v := RiskFeatureVector{
		MissingControls: float64(len(semantic.MissingControls)),
		ImbalanceScore:  round(100-cia.BalanceIndex, 2),
	}
	if totalClauses > 0 {
		v.WeakStatementFrequency = round(float64(len(semantic.WeakClauses))/float64(totalClauses)*100, 2)
	}
	if semantic.Degraded {
		v.CoveragePct = structural.Score
	} else {
		v.CoveragePct = round((structural.Score+semantic.Score)/2, 2)
	}
	return v
}

// ClassifyRisk runs the classifier under timeout. With no classifier, no
// clauses, or a failed call it returns the Unknown verdict together with
// an ErrModelUnavailable error describing why (nil for zero clauses).
func ClassifyRisk(ctx context.Context, c Classifier, v RiskFeatureVector, totalClauses int, timeout time.Duration) (RiskPrediction, AuditReadiness, error) {
	if totalClauses == 0 {
		pred, ready := unknownRisk(v)
		return pred, ready, nil
	}
	if c == nil {
		pred, ready := unknownRisk(v)
		return pred, ready, unavailable("risk classifier", fmt.Errorf("no model loaded"))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	probs, err := c.Predict(ctx, v.slice())
	if err == nil && len(probs) != len(riskLevels) {
		err = fmt.Errorf("classifier returned %d probabilities, want %d", len(probs), len(riskLevels))
	}
	if err != nil {
		pred, ready := unknownRisk(v)
		return pred, ready, unavailable("risk classifier", err)
	}

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	pred := RiskPrediction{
		RiskLevel:               riskLevels[best],
		Confidence:              round(probs[best]*100, 2),
		ProbabilityDistribution: make(map[string]float64, len(riskLevels)),
		Features:                v,
	}
	for i, lvl := range riskLevels {
		pred.ProbabilityDistribution[lvl] = round(probs[i]*100, 2)
	}
	pred.Recommendations = riskRecommendations(pred.RiskLevel, v)

	score := round(probs[0]*100+probs[1]*50, 2)
	return pred, readiness(score), nil
}

func readiness(score float64) AuditReadiness {
	level := "Not Ready"
	switch {
	case score >= 80:
		level = "Audit Ready"
	case score >= 60:
		level = "Mostly Ready"
	case score >= 40:
		level = "Preparing"
	}
	return AuditReadiness{Score: score, Level: level, Recommendation: readinessAdvice[level]}
}

func unknownRisk(v RiskFeatureVector) (RiskPrediction, AuditReadiness) {
	pred := RiskPrediction{
		RiskLevel:               RiskUnknown,
		ProbabilityDistribution: map[string]float64{},
		Recommendations:         riskRecommendations(RiskUnknown, v),
		Features:                v,
	}
	return pred, AuditReadiness{Level: RiskUnknown, Recommendation: readinessAdvice[RiskUnknown]}
}

func riskRecommendations(level string, v RiskFeatureVector) []string {
	switch level {
	case RiskHigh:
		recs := []string{"HIGH RISK: Immediate action required. Address critical gaps before audit."}
		if v.MissingControls > 15 {
			recs = append(recs, "Implement missing controls as priority")
		}
		if v.ImbalanceScore > 50 {
			recs = append(recs, "Balance CIA coverage across all three pillars")
		}
		if v.CoveragePct < 50 {
			recs = append(recs, "Expand policy documentation to improve coverage")
		}
		return recs
	case RiskMedium:
		return []string{
			"MEDIUM RISK: Improvements needed. Focus on key gaps.",
			"Review and strengthen weak policy statements",
			"Address identified control gaps",
		}
	case RiskLow:
		return []string{
			"LOW RISK: Good compliance posture. Continue monitoring.",
			"Maintain current documentation quality",
			"Conduct regular reviews to ensure ongoing compliance",
		}
	default:
		return []string{"Risk model unavailable. Review the structural and semantic findings manually."}
	}
}
