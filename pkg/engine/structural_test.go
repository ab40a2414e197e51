package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/policyguard/pkg/catalog"
)

// testFramework is a small catalog with one control per pillar plus an
// untagged governance control.
func testFramework(t *testing.T) *catalog.Framework {
	t.Helper()
	fw := &catalog.Framework{
		ID:       "test",
		Name:     "Test Framework",
		Version:  "1",
		Settings: catalog.DefaultSettings(),
		Controls: []catalog.Control{
			{
				ID: "AC-1", Title: "Access Control", Category: "Access", Priority: catalog.PriorityCritical,
				Pillar: catalog.Confidentiality, Keywords: []string{"access", "authentication", "least privilege"},
				Related: []string{"other:X-1"},
			},
			{
				ID: "BK-1", Title: "Backup", Category: "Operations", Priority: catalog.PriorityHigh,
				Pillar: catalog.Availability, Keywords: []string{"backup", "restore", "offsite"},
			},
			{
				ID: "CH-1", Title: "Change Management", Category: "Operations", Priority: catalog.PriorityMedium,
				Pillar: catalog.Integrity, Keywords: []string{"change", "approval", "audit trail"},
			},
			{
				ID: "GV-1", Title: "Governance", Category: "Leadership", Priority: catalog.PriorityLow,
				Keywords: []string{"management", "policy"},
			},
		},
	}
	require.NoError(t, fw.Validate())
	return fw
}

func TestVerifyStructureAllKeywordsInSection(t *testing.T) {
	fw := testFramework(t)
	report := VerifyStructure(fw, []Clause{
		{Text: "Access requires strong authentication.", SectionLabel: "AC-1"},
		{Text: "Users are granted least privilege.", SectionLabel: "AC-1.2"},
	})

	f := report.Findings[0]
	assert.Equal(t, "AC-1", f.ControlID)
	assert.Equal(t, Present, f.Status)
	assert.Equal(t, 100.0, f.KeywordCoverage)
	assert.True(t, f.SectionMatched)
	assert.Equal(t, catalog.Confidentiality, f.Pillar)
	assert.ElementsMatch(t, []string{"access", "authentication", "least privilege"}, f.MatchedKeywords)
}

func TestVerifyStructureStemTolerant(t *testing.T) {
	fw := testFramework(t)
	report := VerifyStructure(fw, []Clause{
		{Text: "Backups are restored quarterly and stored offsite.", SectionLabel: "Backup"},
	})
	f := report.Findings[1]
	assert.Equal(t, Present, f.Status)
	assert.Equal(t, 100.0, f.KeywordCoverage)
}

func TestVerifyStructureSectionScoping(t *testing.T) {
	fw := testFramework(t)
	// The keywords sit under a different control's section, so AC-1 only
	// sees its own clause.
	report := VerifyStructure(fw, []Clause{
		{Text: "Access is logged.", SectionLabel: "AC-1"},
		{Text: "Authentication and least privilege apply to backup operators.", SectionLabel: "BK-1"},
	})
	f := report.Findings[0]
	assert.Equal(t, 33.3, f.KeywordCoverage)
	assert.Equal(t, Partial, f.Status)
}

func TestVerifyStructureUnlabelledClausesUseWholeDocument(t *testing.T) {
	fw := testFramework(t)
	report := VerifyStructure(fw, []Clause{
		{Text: "Every change needs approval."},
	})
	f := report.Findings[2]
	assert.False(t, f.SectionMatched)
	assert.Equal(t, 66.7, f.KeywordCoverage)
	assert.Equal(t, Partial, f.Status)
}

func TestVerifyStructureScore(t *testing.T) {
	fw := testFramework(t)
	report := VerifyStructure(fw, []Clause{
		{Text: "Access requires authentication and least privilege.", SectionLabel: "AC-1"},
		{Text: "Backups are taken daily.", SectionLabel: "BK-1"},
		{Text: "Management owns this policy.", SectionLabel: "GV-1"},
	})

	assert.Equal(t, Present, report.Findings[0].Status)
	assert.Equal(t, Partial, report.Findings[1].Status)
	assert.Equal(t, Missing, report.Findings[2].Status)
	assert.Equal(t, Present, report.Findings[3].Status)
	assert.Equal(t, 2, report.Present)
	assert.Equal(t, 1, report.Partial)
	assert.Equal(t, 1, report.Missing)
	// (1 + 0.5 + 0 + 1) / 4
	assert.Equal(t, 62.5, report.Score)
	assert.True(t, report.Valid)
	assert.Equal(t, []string{"CH-1"}, report.PillarFlags[catalog.Integrity])
	assert.Empty(t, report.PillarFlags[catalog.Confidentiality])
}

func TestVerifyStructureZeroControls(t *testing.T) {
	fw := &catalog.Framework{ID: "empty", Settings: catalog.DefaultSettings()}
	report := VerifyStructure(fw, []Clause{{Text: "anything"}})
	assert.False(t, report.Valid)
	assert.Zero(t, report.Score)
	assert.Empty(t, report.Findings)
}

func TestVerifyStructureZeroClauses(t *testing.T) {
	report := VerifyStructure(testFramework(t), nil)
	assert.True(t, report.Valid)
	assert.Zero(t, report.Score)
	assert.Equal(t, 4, report.Missing)
}

func TestSectionMatches(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"A.9", true},
		{"a.9", true},
		{"A.9.2", true},
		{"A.9 Access Control", true},
		{"Section 4: Access Control policy", true},
		{"A.90", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, sectionMatches(tt.label, "A.9", "Access Control"))
		})
	}
}
