package engine

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/user/policyguard/pkg/catalog"
)

//go:embed remediation/*.yaml
var builtinRemediation embed.FS

const defaultTemplateID = "default"

// RemediationTemplate describes how to close a gap for a class of controls.
// Action, Evidence and Review are text/template strings rendered with the
// control's fields.
type RemediationTemplate struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Category string         `yaml:"category"`
	Pillar   catalog.Pillar `yaml:"pillar"`
	Action   string         `yaml:"action"`
	Evidence string         `yaml:"evidence"`
	Review   string         `yaml:"review"`
	// Variables must be present when the template is rendered.
	Variables []string `yaml:"variables"`
}

// RemediationPlan is a rendered template for one gap.
type RemediationPlan struct {
	ControlID  string `json:"control_id"`
	TemplateID string `json:"template_id"`
	Action     string `json:"action"`
	Evidence   string `json:"evidence"`
	Review     string `json:"review"`
}

// RemediationLibrary holds remediation templates. It is read-only after load.
type RemediationLibrary struct {
	Templates  map[string]RemediationTemplate
	byCategory map[string]string
	byPillar   map[catalog.Pillar]string
}

// NewRemediationLibrary creates an empty library.
func NewRemediationLibrary() *RemediationLibrary {
	return &RemediationLibrary{
		Templates:  make(map[string]RemediationTemplate),
		byCategory: make(map[string]string),
		byPillar:   make(map[catalog.Pillar]string),
	}
}

// LoadRemediation loads the builtin templates and then any YAML templates
// found in dir, which replace builtin templates with the same id.
func LoadRemediation(dir string, logger *zap.Logger) (*RemediationLibrary, error) {
	lib := NewRemediationLibrary()
	if err := lib.loadFS(builtinRemediation, "remediation", logger); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := lib.loadFS(os.DirFS(dir), ".", logger); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

func (l *RemediationLibrary) loadFS(fsys fs.FS, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return err
		}

		var t RemediationTemplate
		if err := yaml.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		if err := l.Add(t); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		logger.Debug("loaded remediation template", zap.String("template", t.ID))
	}
	return nil
}

// Add registers t after checking that its templates parse.
func (l *RemediationLibrary) Add(t RemediationTemplate) error {
	if t.ID == "" {
		return fmt.Errorf("remediation template has no id")
	}
	for name, s := range map[string]string{"action": t.Action, "evidence": t.Evidence, "review": t.Review} {
		if _, err := template.New(name).Parse(s); err != nil {
			return fmt.Errorf("template %s: failed to parse %s: %w", t.ID, name, err)
		}
	}
	t.Pillar = catalog.Pillar(strings.ToLower(string(t.Pillar)))
	l.Templates[t.ID] = t
	if t.Category != "" {
		l.byCategory[strings.ToLower(t.Category)] = t.ID
	}
	if t.Pillar != "" {
		l.byPillar[t.Pillar] = t.ID
	}
	return nil
}

// ListTemplates returns "id: name" for every template, sorted by id.
func (l *RemediationLibrary) ListTemplates() []string {
	list := make([]string, 0, len(l.Templates))
	for _, t := range l.Templates {
		list = append(list, fmt.Sprintf("%s: %s", t.ID, t.Name))
	}
	sort.Strings(list)
	return list
}

// Select picks the template for a control: category first, then pillar,
// then the default template.
func (l *RemediationLibrary) Select(c catalog.Control) (RemediationTemplate, bool) {
	if id, ok := l.byCategory[strings.ToLower(c.Category)]; ok {
		return l.Templates[id], true
	}
	if id, ok := l.byPillar[c.Pillar]; ok {
		return l.Templates[id], true
	}
	t, ok := l.Templates[defaultTemplateID]
	return t, ok
}

// PlanFor renders the selected template for control c of framework fw.
func (l *RemediationLibrary) PlanFor(fw *catalog.Framework, c catalog.Control) (RemediationPlan, error) {
	t, ok := l.Select(c)
	if !ok {
		return RemediationPlan{}, fmt.Errorf("no remediation template for %s", c.ID)
	}
	vars := map[string]string{
		"Framework": fw.Name,
		"ControlID": c.ID,
		"Title":     c.Title,
		"Category":  c.Category,
		"Priority":  string(c.Priority),
		"Pillar":    c.Pillar.Title(),
		"Keywords":  strings.Join(c.Keywords, ", "),
	}
	return l.GeneratePlan(t.ID, c.ID, vars)
}

// GeneratePlan renders template id with vars.
func (l *RemediationLibrary) GeneratePlan(id, controlID string, vars map[string]string) (RemediationPlan, error) {
	tmpl, ok := l.Templates[id]
	if !ok {
		return RemediationPlan{}, fmt.Errorf("template not found: %s", id)
	}
	for _, v := range tmpl.Variables {
		if _, exists := vars[v]; !exists {
			return RemediationPlan{}, fmt.Errorf("missing required variable: %s", v)
		}
	}

	plan := RemediationPlan{ControlID: controlID, TemplateID: id}
	var err error
	if plan.Action, err = renderString("action", tmpl.Action, vars); err != nil {
		return RemediationPlan{}, err
	}
	if plan.Evidence, err = renderString("evidence", tmpl.Evidence, vars); err != nil {
		return RemediationPlan{}, err
	}
	if plan.Review, err = renderString("review", tmpl.Review, vars); err != nil {
		return RemediationPlan{}, err
	}
	return plan, nil
}

// String formats the plan for terminal output.
func (p RemediationPlan) String() string {
	var sb strings.Builder
	sb.WriteString("[FIX PLAN] " + p.ControlID + "\n")
	sb.WriteString("Action:\n" + p.Action + "\n\n")
	sb.WriteString("Evidence:\n" + p.Evidence + "\n\n")
	sb.WriteString("Review:\n" + p.Review + "\n")
	return sb.String()
}

func renderString(name, tmplStr string, vars map[string]string) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
