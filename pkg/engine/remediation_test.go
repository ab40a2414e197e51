package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/policyguard/pkg/catalog"
)

func TestLoadRemediationBuiltin(t *testing.T) {
	lib, err := LoadRemediation("", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, lib.ListTemplates(), "default: Generic control gap")
	assert.Contains(t, lib.Templates, "availability")
}

func TestRemediationSelect(t *testing.T) {
	lib, err := LoadRemediation("", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		control catalog.Control
		want    string
	}{
		{"category wins", catalog.Control{Category: "Leadership", Pillar: catalog.Availability}, "leadership"},
		{"category is case-insensitive", catalog.Control{Category: "data subject rights"}, "data-subject-rights"},
		{"pillar", catalog.Control{Category: "Operations", Pillar: catalog.Integrity}, "integrity"},
		{"default", catalog.Control{Category: "Operations"}, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, ok := lib.Select(tt.control)
			require.True(t, ok)
			assert.Equal(t, tt.want, tmpl.ID)
		})
	}
}

func TestRemediationPlanFor(t *testing.T) {
	lib, err := LoadRemediation("", nil)
	require.NoError(t, err)
	fw := testFramework(t)
	c, _ := fw.Control("GV-1")

	plan, err := lib.PlanFor(fw, c)
	require.NoError(t, err)
	assert.Equal(t, "GV-1", plan.ControlID)
	assert.Equal(t, "leadership", plan.TemplateID)
	assert.Contains(t, plan.Action, "Have top management approve GV-1 (Governance)")
	assert.Contains(t, plan.String(), "[FIX PLAN] GV-1")
}

func TestRemediationDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(`
id: default
name: Site default
action: "Raise a ticket for {{.ControlID}}."
evidence: "Ticket number."
review: "Weekly."
variables: [ControlID]
`), 0o644))

	lib, err := LoadRemediation(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	plan, err := lib.GeneratePlan("default", "X-1", map[string]string{"ControlID": "X-1"})
	require.NoError(t, err)
	assert.Equal(t, "Raise a ticket for X-1.", plan.Action)
}

func TestRemediationErrors(t *testing.T) {
	lib := NewRemediationLibrary()
	_, ok := lib.Select(catalog.Control{})
	assert.False(t, ok)

	assert.Error(t, lib.Add(RemediationTemplate{Name: "no id"}))
	assert.Error(t, lib.Add(RemediationTemplate{ID: "broken", Action: "{{.Title"}))

	require.NoError(t, lib.Add(RemediationTemplate{ID: "t", Action: "{{.Title}}", Variables: []string{"Title"}}))
	_, err := lib.GeneratePlan("t", "X", map[string]string{})
	assert.ErrorContains(t, err, "missing required variable: Title")
	_, err = lib.GeneratePlan("nope", "X", nil)
	assert.ErrorContains(t, err, "template not found")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: [unclosed"), 0o644))
	_, err = LoadRemediation(dir, nil)
	assert.Error(t, err)
}
