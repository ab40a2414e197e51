package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/policyguard/pkg/catalog"
)

// reasoningInput runs the real layers over a small document: AC-1 is
// partial, BK-1 and CH-1 are missing, GV-1 is present.
func reasoningInput(t *testing.T) ReasoningInput {
	t.Helper()
	fw := testFramework(t)
	clauses := []Clause{
		{Text: "Access is logged and reviewed.", SectionLabel: "AC-1"},
		{Text: "Management owns this policy.", SectionLabel: "GV-1"},
		{Text: "Staff should lock their screens when away.", SectionLabel: "AC-1"},
		{Text: "Visitors may be escorted where possible.", SectionLabel: "AC-1"},
	}
	doc := newDocument(clauses)
	structural := verifyStructure(fw, doc)
	const dims = 5
	clauseVecs := [][]float32{
		towards(0, 0.8, dims),
		towards(3, 0.9, dims),
		towards(0, 0.35, dims),
		towards(0, 0.5, dims),
	}
	semantic := matchSemantics(fw, doc, clauseVecs, unitVectors(len(fw.Controls), dims), DefaultLexicon())
	return ReasoningInput{
		Framework:  fw,
		Structural: structural,
		Semantic:   semantic,
		CIA:        analyzeCIA(doc, DefaultLexicon(), nil),
		Clauses:    clauses,
	}
}

func TestExecutiveSummaryBands(t *testing.T) {
	fw := testFramework(t)
	tests := []struct {
		structural, semantic float64
		degraded             bool
		want                 string
	}{
		{90, 80, false, "The document demonstrates strong alignment with TEST requirements. " +
			"Structural compliance is at 90% with semantic similarity at 80%. " +
			"Minor gaps should be addressed to achieve full compliance."},
		{60, 50, false, "The document shows moderate compliance with TEST. " +
			"Structural score is 60% and semantic score is 50%. " +
			"Several mandatory sections require strengthening or addition."},
		{10, 20.5, false, "Significant gaps detected in TEST compliance. " +
			"Structural coverage is only 10% with semantic alignment at 20.5%. " +
			"Comprehensive remediation is required before audit readiness."},
		{85, 0, true, "The document demonstrates strong alignment with TEST requirements. " +
			"Structural compliance is at 85% with semantic similarity at 0%. " +
			"Minor gaps should be addressed to achieve full compliance."},
	}
	for _, tt := range tests {
		in := ReasoningInput{
			Framework:  fw,
			Structural: StructuralReport{Score: tt.structural},
			Semantic:   SemanticReport{Score: tt.semantic, Degraded: tt.degraded},
		}
		assert.Equal(t, tt.want, executiveSummary(in))
	}
}

func TestRuleBasedGapRanking(t *testing.T) {
	in := reasoningInput(t)
	out, err := NewRuleBasedReasoner(nil, nil).Reason(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, SourceRuleBased, out.Source)

	require.Len(t, out.Gaps, 3)
	assert.Equal(t, "BK-1", out.Gaps[0].ControlID)
	assert.Equal(t, "CH-1", out.Gaps[1].ControlID)
	assert.Equal(t, "AC-1", out.Gaps[2].ControlID)

	assert.Equal(t, "Control BK-1 (Backup) is missing. Keyword coverage is only 0%. "+
		"This weakens the Availability pillar.", out.Gaps[0].Explanation)
	assert.Equal(t, catalog.Availability, out.Gaps[0].Pillar)
	assert.Equal(t, "Control AC-1 (Access Control) is partial. Keyword coverage is only 33.3%. "+
		"This weakens the Confidentiality pillar. Related: other:X-1.", out.Gaps[2].Explanation)
}

func TestRuleBasedGapLimit(t *testing.T) {
	fw := &catalog.Framework{ID: "big", Settings: catalog.DefaultSettings()}
	for i := 0; i < 12; i++ {
		fw.Controls = append(fw.Controls, catalog.Control{
			ID: fmt.Sprintf("C-%02d", i), Title: fmt.Sprintf("Control %d", i), Keywords: []string{"zebra"},
		})
	}
	require.NoError(t, fw.Validate())
	doc := newDocument([]Clause{{Text: "Nothing relevant."}})
	gaps := gapExplanations(ReasoningInput{Framework: fw, Structural: verifyStructure(fw, doc)}, nil)
	require.Len(t, gaps, maxGaps)
	assert.Equal(t, "C-00", gaps[0].ControlID)
	assert.Equal(t, "C-09", gaps[9].ControlID)
}

func TestRuleBasedSuggestions(t *testing.T) {
	in := reasoningInput(t)
	out, err := NewRuleBasedReasoner(nil, nil).Reason(context.Background(), in)
	require.NoError(t, err)

	require.NotEmpty(t, out.Suggestions)
	assert.Equal(t, "Add dedicated sections for: Backup, Change Management", out.Suggestions[0])
	assert.Contains(t, out.Suggestions, "Address missing controls: BK-1, CH-1")
	for _, s := range out.Suggestions {
		assert.NotContains(t, s, "Rewrite weak policy statements")
	}
}

func TestRuleBasedWeakLanguageSuggestion(t *testing.T) {
	in := reasoningInput(t)
	in.Semantic.WeakClauses = make([]WeakClause, 4)
	s := suggestions(in, nil)
	assert.Contains(t, s, "Rewrite weak policy statements using mandatory language (shall, must, will) "+
		"instead of vague terms (may, should consider).")
}

func TestRuleBasedRewrites(t *testing.T) {
	in := reasoningInput(t)
	out, err := NewRuleBasedReasoner(nil, nil).Reason(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.Rewrites, 2)
	assert.Equal(t, ClauseRewrite{
		ClauseIndex: 2,
		Original:    "Staff should lock their screens when away.",
		Rewritten:   "Staff shall lock their screens when away.",
	}, out.Rewrites[0])
	assert.Equal(t, "Visitors must be escorted as a mandatory requirement.", out.Rewrites[1].Rewritten)
}

func TestRuleBasedPillarImpact(t *testing.T) {
	in := ReasoningInput{
		Framework: testFramework(t),
		Structural: StructuralReport{PillarFlags: map[catalog.Pillar][]string{
			catalog.Availability: {"BK-1"},
		}},
		CIA: CIAReport{
			TotalClauses: 10,
			Coverage:     CIACoverage{Confidentiality: 10, Integrity: 30, Availability: 0},
		},
	}
	impact := pillarImpact(in)
	assert.Equal(t, PillarImpact{Status: ImpactAtRisk, Reason: "Absence of 1 control(s) weakens Availability pillar."},
		impact[catalog.Availability])
	assert.Equal(t, PillarImpact{Status: ImpactAtRisk, Reason: "Confidentiality coverage is critically low at 10%."},
		impact[catalog.Confidentiality])
	assert.Equal(t, ImpactCovered, impact[catalog.Integrity].Status)

	in.CIA.InsufficientData = true
	assert.Equal(t, ImpactCovered, pillarImpact(in)[catalog.Confidentiality].Status)
}

func TestReasoningConfidence(t *testing.T) {
	in := reasoningInput(t)
	assert.Equal(t, 100.0, reasoningConfidence(in))

	degraded := in
	degraded.Semantic.Degraded = true
	assert.Equal(t, 66.67, reasoningConfidence(degraded))

	insufficient := in
	insufficient.CIA.InsufficientData = true
	assert.Equal(t, 66.67, reasoningConfidence(insufficient))

	empty := ReasoningInput{Framework: in.Framework}
	assert.Zero(t, reasoningConfidence(empty))
}

func TestRuleBasedRemediationPlans(t *testing.T) {
	lib, err := LoadRemediation("", zaptest.NewLogger(t))
	require.NoError(t, err)

	in := reasoningInput(t)
	out, err := NewRuleBasedReasoner(nil, lib).Reason(context.Background(), in)
	require.NoError(t, err)

	// BK-1 (High) and AC-1 (Critical) qualify; CH-1 is Medium.
	require.Len(t, out.Remediation, 2)
	assert.Equal(t, "BK-1", out.Remediation[0].ControlID)
	assert.Equal(t, "availability", out.Remediation[0].TemplateID)
	assert.Equal(t, "AC-1", out.Remediation[1].ControlID)
	assert.Equal(t, "confidentiality", out.Remediation[1].TemplateID)
	assert.Contains(t, out.Suggestions[len(out.Suggestions)-1], "Remediate AC-1: Extend AC-1 (Access Control)")
}

func TestRuleBasedUsesCrosswalk(t *testing.T) {
	reg := catalog.NewRegistry()
	fw := testFramework(t)
	reg.Add(fw)
	other := &catalog.Framework{ID: "other", Settings: catalog.DefaultSettings(), Controls: []catalog.Control{
		{ID: "X-1", Title: "Identity", Keywords: []string{"identity"}},
		{ID: "X-2", Title: "Resilience", Keywords: []string{"resilience"}, Related: []string{"test:BK-1"}},
	}}
	require.NoError(t, other.Validate())
	reg.Add(other)

	r := NewRuleBasedReasoner(nil, nil)
	r.Crosswalk = catalog.NewCrosswalk(reg)
	out, err := r.Reason(context.Background(), reasoningInput(t))
	require.NoError(t, err)

	// BK-1 declares no mapping itself; the reverse edge from X-2 is used.
	assert.Equal(t, []string{"other:X-2"}, out.Gaps[0].Related)
	assert.Equal(t, []string{"other:X-1"}, out.Gaps[2].Related)
}

func TestRuleBasedHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRuleBasedReasoner(nil, nil).Reason(ctx, reasoningInput(t))
	assert.ErrorIs(t, err, context.Canceled)
}
