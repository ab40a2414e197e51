package engine

// CCI weights.
const (
	weightStructural = 0.4
	weightSemantic   = 0.4
	weightReasoning  = 0.2
)

// CCI fuses the three layer scores into the Compliance Confidence Index.
func CCI(structural, semantic, reasoning float64) float64 {
	v := structural*weightStructural + semantic*weightSemantic + reasoning*weightReasoning
	return clamp(round(v, 1))
}

// Grade maps a CCI onto Excellent, Good, Fair or Poor.
func Grade(cci float64) string { return Rating(cci) }

// OverallCCI is the mean CCI of the analyzed frameworks; 0 when none were.
func OverallCCI(scores []FrameworkScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s.CCI
	}
	return clamp(round(sum/float64(len(scores)), 1))
}

// summarize builds the hybrid summary from framework results in request order.
func summarize(order []string, results map[string]*FrameworkResult) HybridSummary {
	h := HybridSummary{Frameworks: []FrameworkScore{}}
	for _, id := range order {
		r, ok := results[id]
		if !ok || !r.Valid || r.Error != "" {
			continue
		}
		h.Frameworks = append(h.Frameworks, FrameworkScore{
			Framework:           id,
			StructuralScore:     r.StructuralScore,
			SemanticScore:       r.SemanticScore,
			ReasoningConfidence: r.Reasoning.Confidence,
			CCI:                 r.CCI,
			Grade:               r.Grade,
		})
	}
	h.OverallCCI = OverallCCI(h.Frameworks)
	h.Grade = Grade(h.OverallCCI)
	return h
}
