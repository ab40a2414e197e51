package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/policyguard/pkg/catalog"
)

// unitVectors returns n orthogonal unit vectors of dimension dims.
func unitVectors(n, dims int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dims)
		out[i][i] = 1
	}
	return out
}

// towards returns a unit vector whose cosine with axis is sim; the rest
// of its length lies on the last dimension.
func towards(axis int, sim float64, dims int) []float32 {
	v := make([]float32, dims)
	v[axis] = float32(sim)
	v[dims-1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func TestClassify(t *testing.T) {
	set := catalog.DefaultSettings()
	tests := []struct {
		sim   float64
		level ComplianceLevel
		ok    bool
	}{
		{0.82, LevelStrong, true},
		{0.70, LevelStrong, true},
		{0.69, LevelPartial, true},
		{0.50, LevelPartial, true},
		{0.45, LevelPartial, true},
		{0.35, LevelWeak, true},
		{0.30, LevelWeak, true},
		{0.20, "", false},
	}
	for _, tt := range tests {
		level, ok := classify(tt.sim, set)
		assert.Equal(t, tt.ok, ok, "sim=%v", tt.sim)
		assert.Equal(t, tt.level, level, "sim=%v", tt.sim)
	}
}

func TestMatchSemanticsLevels(t *testing.T) {
	fw := testFramework(t)
	const dims = 5
	clauses := []Clause{
		{Text: "Access is restricted to approved staff."},
		{Text: "Copies of data are kept."},
		{Text: "The canteen menu changes weekly."},
	}
	clauseVecs := [][]float32{
		towards(0, 0.82, dims),
		towards(1, 0.50, dims),
		towards(2, 0.20, dims),
	}

	r, err := MatchSemantics(fw, clauses, clauseVecs, unitVectors(len(fw.Controls), dims), DefaultLexicon())
	require.NoError(t, err)

	require.Len(t, r.Matches, 2)
	assert.Equal(t, ClauseControlMatch{ClauseIndex: 0, ControlID: "AC-1", Similarity: 0.82, Level: LevelStrong}, r.Matches[0])
	assert.Equal(t, ClauseControlMatch{ClauseIndex: 1, ControlID: "BK-1", Similarity: 0.5, Level: LevelPartial}, r.Matches[1])

	assert.Equal(t, 1, r.StrongCount)
	assert.Equal(t, 1, r.PartialCount)
	assert.Zero(t, r.WeakCount)
	assert.Equal(t, 2, r.MatchedClauses)
	assert.Equal(t, 50.0, r.Score)

	assert.Equal(t, []string{"AC-1", "BK-1"}, r.MatchedControls)
	require.Len(t, r.MissingControls, 2)
	assert.Equal(t, "CH-1", r.MissingControls[0].ControlID)
	assert.Equal(t, "GV-1", r.MissingControls[1].ControlID)
	assert.Equal(t, 50.0, r.CompliancePercentage)

	require.Len(t, r.WeakClauses, 1)
	assert.Equal(t, 2, r.WeakClauses[0].ClauseIndex)
	assert.Equal(t, "no matching control", r.WeakClauses[0].Reason)
	assert.False(t, r.Degraded)
}

func TestMatchSemanticsTiesFollowCatalogOrder(t *testing.T) {
	fw := testFramework(t)
	const dims = 5
	v := make([]float32, dims)
	v[0], v[1], v[dims-1] = 0.6, 0.6, float32(math.Sqrt(1-0.72))

	r, err := MatchSemantics(fw, []Clause{{Text: "Shared duty."}}, [][]float32{v}, unitVectors(len(fw.Controls), dims), DefaultLexicon())
	require.NoError(t, err)
	require.Len(t, r.Matches, 2)
	assert.Equal(t, "AC-1", r.Matches[0].ControlID)
	assert.Equal(t, "BK-1", r.Matches[1].ControlID)
	assert.Equal(t, r.Matches[0].Similarity, r.Matches[1].Similarity)

	best, ok := r.bestMatch(0)
	require.True(t, ok)
	assert.Equal(t, "AC-1", best.ControlID)
}

func TestMatchSemanticsTopK(t *testing.T) {
	fw := testFramework(t)
	fw.Settings.TopK = 2
	const dims = 5
	v := make([]float32, dims)
	v[0], v[1], v[2], v[3] = 0.5, 0.5, 0.5, 0.5

	r, err := MatchSemantics(fw, []Clause{{Text: "Everything at once."}}, [][]float32{v}, unitVectors(len(fw.Controls), dims), DefaultLexicon())
	require.NoError(t, err)
	assert.Len(t, r.Matches, 2)
	// Controls beyond the top-k still count as covered.
	assert.Len(t, r.MatchedControls, 4)
}

func TestMatchSemanticsWeakClauses(t *testing.T) {
	fw := testFramework(t)
	const dims = 5
	clauses := []Clause{
		{Text: "Staff should lock their screens."},
		{Text: "Backups may be tested."},
	}
	clauseVecs := [][]float32{
		towards(0, 0.35, dims),
		towards(1, 0.90, dims),
	}
	r, err := MatchSemantics(fw, clauses, clauseVecs, unitVectors(len(fw.Controls), dims), DefaultLexicon())
	require.NoError(t, err)

	require.Len(t, r.WeakClauses, 2)
	assert.Equal(t, `weak semantic match to AC-1; advisory language "should"`, r.WeakClauses[0].Reason)
	assert.Equal(t, 0.35, r.WeakClauses[0].Score)
	assert.Equal(t, `advisory language "may"`, r.WeakClauses[1].Reason)
	assert.Equal(t, 1, r.WeakCount)
	assert.Equal(t, 1, r.StrongCount)
}

func TestWeakClausesTooShort(t *testing.T) {
	fw := testFramework(t)
	const dims = 5
	clauses := []Clause{
		{Text: "Backups are tested."},
		{Text: "Backups of production databases are taken every night and restore tests run monthly."},
		{Text: "Staff may lock screens."},
	}
	clauseVecs := [][]float32{
		towards(1, 0.90, dims),
		towards(1, 0.90, dims),
		towards(0, 0.90, dims),
	}
	lex := DefaultLexicon().WithMinClauseWords(DefaultMinClauseWords)
	r, err := MatchSemantics(fw, clauses, clauseVecs, unitVectors(len(fw.Controls), dims), lex)
	require.NoError(t, err)

	require.Len(t, r.WeakClauses, 2)
	assert.Equal(t, 0, r.WeakClauses[0].ClauseIndex)
	assert.Equal(t, "too short (3 words)", r.WeakClauses[0].Reason)
	assert.Equal(t, 2, r.WeakClauses[1].ClauseIndex)
	assert.Equal(t, `advisory language "may"; too short (4 words)`, r.WeakClauses[1].Reason)

	// The rule is off unless configured.
	r, err = MatchSemantics(fw, clauses, clauseVecs, unitVectors(len(fw.Controls), dims), DefaultLexicon())
	require.NoError(t, err)
	require.Len(t, r.WeakClauses, 1)
	assert.Equal(t, 2, r.WeakClauses[0].ClauseIndex)
}

func TestMatchSemanticsVectorCountMismatch(t *testing.T) {
	fw := testFramework(t)
	_, err := MatchSemantics(fw, []Clause{{Text: "x"}}, nil, unitVectors(4, 5), DefaultLexicon())
	assert.Error(t, err)
	_, err = MatchSemantics(fw, []Clause{{Text: "x"}}, unitVectors(1, 5), unitVectors(2, 5), DefaultLexicon())
	assert.Error(t, err)
}

func TestMatchSemanticsZeroClauses(t *testing.T) {
	fw := testFramework(t)
	r, err := MatchSemantics(fw, nil, nil, unitVectors(len(fw.Controls), 5), DefaultLexicon())
	require.NoError(t, err)
	assert.Zero(t, r.Score)
	assert.Empty(t, r.Matches)
	assert.Len(t, r.MissingControls, 4)
	assert.Zero(t, r.CompliancePercentage)
}

func TestSemanticFallbackUsesStructuralVerdicts(t *testing.T) {
	fw := testFramework(t)
	clauses := []Clause{
		{Text: "Access requires authentication and least privilege.", SectionLabel: "AC-1"},
		{Text: "Backups should be taken daily.", SectionLabel: "BK-1"},
	}
	doc := newDocument(clauses)
	structural := verifyStructure(fw, doc)
	r := semanticFallback(fw, doc, structural, DefaultLexicon())

	assert.True(t, r.Degraded)
	assert.Zero(t, r.Score)
	assert.Equal(t, []string{"AC-1", "BK-1"}, r.MatchedControls)
	assert.Equal(t, 50.0, r.CompliancePercentage)
	require.Len(t, r.WeakClauses, 1)
	assert.Equal(t, 1, r.WeakClauses[0].ClauseIndex)
	assert.Equal(t, `advisory language "should"`, r.WeakClauses[0].Reason)
}
