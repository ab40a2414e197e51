package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/policyguard/pkg/catalog"
)

func repeat(text, section string, n int) []Clause {
	out := make([]Clause, n)
	for i := range out {
		out[i] = Clause{Text: text, SectionLabel: section}
	}
	return out
}

func TestBalanceIndexRangeAndEquality(t *testing.T) {
	for c := 0.0; c <= 100; c += 12.5 {
		for i := 0.0; i <= 100; i += 12.5 {
			for a := 0.0; a <= 100; a += 12.5 {
				cbi := BalanceIndex(CIACoverage{Confidentiality: c, Integrity: i, Availability: a})
				require.GreaterOrEqual(t, cbi, 0.0)
				require.LessOrEqual(t, cbi, 100.0)
				if c == i && i == a {
					require.Equal(t, 100.0, cbi)
				} else {
					require.Less(t, cbi, 100.0, "c=%v i=%v a=%v", c, i, a)
				}
			}
		}
	}
}

func TestBalanceIndexDegenerate(t *testing.T) {
	assert.InDelta(t, 0.0, BalanceIndex(CIACoverage{Confidentiality: 100}), 0.01)
	assert.Equal(t, 100.0, BalanceIndex(CIACoverage{}))
}

func TestBalanceIndexCoverageTriple(t *testing.T) {
	cbi := BalanceIndex(CIACoverage{Confidentiality: 35.5, Integrity: 42.2, Availability: 22.3})
	assert.InDelta(t, 82.46, cbi, 0.05)
	assert.Equal(t, "Good", Rating(cbi))
}

func TestAnalyzeCIAUnevenDocument(t *testing.T) {
	var clauses []Clause
	clauses = append(clauses, repeat("Data is encrypted.", "Crypto", 16)...)
	clauses = append(clauses, repeat("Records keep an audit trail.", "Logging", 19)...)
	clauses = append(clauses, repeat("Backups are tested.", "Continuity", 10)...)
	require.Len(t, clauses, 45)

	r := AnalyzeCIA(clauses, DefaultLexicon(), nil)
	assert.Equal(t, 35.56, r.Coverage.Confidentiality)
	assert.Equal(t, 42.22, r.Coverage.Integrity)
	assert.Equal(t, 22.22, r.Coverage.Availability)
	assert.InDelta(t, 82.4, r.BalanceIndex, 0.1)
	assert.Equal(t, "Good", r.Rating)
	assert.False(t, r.InsufficientData)
	assert.Equal(t, 45, r.TaggedClauses)

	var under *Imbalance
	for i := range r.Imbalances {
		if r.Imbalances[i].Pillar == catalog.Availability {
			under = &r.Imbalances[i]
		}
	}
	require.NotNil(t, under)
	assert.Equal(t, "under_covered", under.Direction)
	assert.Equal(t, "Low", under.Severity)

	require.Len(t, r.Imbalances, 2)
	assert.Equal(t, catalog.Integrity, r.Imbalances[0].Pillar)
	assert.Equal(t, "over_covered", r.Imbalances[0].Direction)

	require.NotEmpty(t, r.Recommendations)
	assert.Contains(t, r.Recommendations[0], "AVAILABILITY")

	require.Len(t, r.Heatmap, 3)
	assert.Equal(t, "Logging", r.Heatmap[0].Section)
	assert.Equal(t, 100.0, r.Heatmap[0].Integrity)
}

func TestAnalyzeCIAMultiPillarClause(t *testing.T) {
	r := AnalyzeCIA([]Clause{
		{Text: "Encrypted backups are verified with a checksum."},
	}, DefaultLexicon(), nil)
	assert.Equal(t, 100.0, r.Coverage.Confidentiality)
	assert.Equal(t, 100.0, r.Coverage.Integrity)
	assert.Equal(t, 100.0, r.Coverage.Availability)
	assert.Equal(t, 100.0, r.BalanceIndex)
}

func TestAnalyzeCIAFallbackPillar(t *testing.T) {
	clauses := []Clause{
		{Text: "Staff attend yearly training."},
		{Text: "Visitors sign in at reception."},
	}
	r := AnalyzeCIA(clauses, DefaultLexicon(), []catalog.Pillar{catalog.Availability, ""})
	assert.Equal(t, 50.0, r.Coverage.Availability)
	assert.Zero(t, r.Coverage.Confidentiality)
	assert.Equal(t, 1, r.TaggedClauses)
}

func TestAnalyzeCIAZeroClauses(t *testing.T) {
	r := AnalyzeCIA(nil, DefaultLexicon(), nil)
	assert.Zero(t, r.BalanceIndex)
	assert.True(t, r.InsufficientData)
	assert.Equal(t, CIACoverage{}, r.Coverage)
	assert.Equal(t, "Poor", r.Rating)
	assert.Len(t, r.Imbalances, 3)
	assert.Empty(t, r.Heatmap)
}

func TestAnalyzeCIANoPillarContent(t *testing.T) {
	r := AnalyzeCIA([]Clause{{Text: "The cafeteria opens at noon."}}, DefaultLexicon(), nil)
	assert.True(t, r.InsufficientData)
	assert.Zero(t, r.BalanceIndex)
}

func TestAnalyzeCIASingleTaggedClauseIsSufficient(t *testing.T) {
	clauses := []Clause{
		{Text: "Daily backups support disaster recovery."},
		{Text: "The cafeteria opens at noon."},
	}
	r := AnalyzeCIA(clauses, DefaultLexicon(), nil)
	assert.Equal(t, 1, r.TaggedClauses)
	assert.False(t, r.InsufficientData)
	assert.Equal(t, 50.0, r.Coverage.Availability)
}

func TestAnalyzeCIAFallbackOnlyWithoutLexiconHits(t *testing.T) {
	// Hits for two pillars keep both tags; the semantic pillar is not added.
	clauses := []Clause{{Text: "Encryption protects confidential records and checksum verification detects tampering."}}
	r := AnalyzeCIA(clauses, DefaultLexicon(), []catalog.Pillar{catalog.Availability})
	assert.Equal(t, 100.0, r.Coverage.Confidentiality)
	assert.Equal(t, 100.0, r.Coverage.Integrity)
	assert.Zero(t, r.Coverage.Availability)
}

func TestImbalanceSeverity(t *testing.T) {
	assert.Equal(t, "Low", imbalanceSeverity(5))
	assert.Equal(t, "Medium", imbalanceSeverity(5.01))
	assert.Equal(t, "Medium", imbalanceSeverity(10))
	assert.Equal(t, "High", imbalanceSeverity(25))
}
