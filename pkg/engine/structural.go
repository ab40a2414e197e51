package engine

import (
	"math"

	"github.com/user/policyguard/pkg/catalog"
)

// ControlStatus is the structural verdict for one control.
type ControlStatus string

const (
	Present ControlStatus = "present"
	Partial ControlStatus = "partial"
	Missing ControlStatus = "missing"
)

func (s ControlStatus) weight() float64 {
	switch s {
	case Present:
		return 1.0
	case Partial:
		return 0.5
	default:
		return 0
	}
}

// StructuralFinding records keyword coverage for one control.
type StructuralFinding struct {
	ControlID       string           `json:"control_id"`
	Title           string           `json:"title"`
	Category        string           `json:"category"`
	Priority        catalog.Priority `json:"priority"`
	Status          ControlStatus    `json:"status"`
	KeywordCoverage float64          `json:"keyword_coverage"`
	MatchedKeywords []string         `json:"matched_keywords"`
	Pillar          catalog.Pillar   `json:"pillar,omitempty"`
	SectionMatched  bool             `json:"section_matched"`
}

// StructuralReport is the Layer 1 result for one framework.
type StructuralReport struct {
	Findings []StructuralFinding `json:"findings"`
	Score    float64             `json:"structural_score"`
	Present  int                 `json:"present"`
	Partial  int                 `json:"partial"`
	Missing  int                 `json:"missing"`
	Valid    bool                `json:"valid"`
	// PillarFlags lists, per pillar, the missing controls tagged with it.
	PillarFlags map[catalog.Pillar][]string `json:"pillar_flags"`
}

// VerifyStructure checks every control's reference keywords against the
// clauses of its section. A framework without controls scores 0 and is
// reported invalid.
func VerifyStructure(fw *catalog.Framework, clauses []Clause) StructuralReport {
	return verifyStructure(fw, newDocument(clauses))
}

func verifyStructure(fw *catalog.Framework, doc *document) StructuralReport {
	report := StructuralReport{
		Findings:    make([]StructuralFinding, 0, len(fw.Controls)),
		Valid:       len(fw.Controls) > 0,
		PillarFlags: make(map[catalog.Pillar][]string),
	}
	for _, p := range catalog.Pillars {
		report.PillarFlags[p] = []string{}
	}
	if !report.Valid {
		return report
	}

	set := fw.Settings
	var total float64
	for _, c := range fw.Controls {
		f := checkControl(c, doc, set)
		switch f.Status {
		case Present:
			report.Present++
		case Partial:
			report.Partial++
		default:
			report.Missing++
			if f.Pillar != "" {
				report.PillarFlags[f.Pillar] = append(report.PillarFlags[f.Pillar], c.ID)
			}
		}
		total += f.Status.weight()
		report.Findings = append(report.Findings, f)
	}
	report.Score = clamp(round(total/float64(len(fw.Controls))*100, 2))
	return report
}

func checkControl(c catalog.Control, doc *document, set catalog.Settings) StructuralFinding {
	f := StructuralFinding{
		ControlID:       c.ID,
		Title:           c.Title,
		Category:        c.Category,
		Priority:        c.Priority,
		Pillar:          c.Pillar,
		MatchedKeywords: []string{},
		Status:          Missing,
	}

	var scope []int
	for i, cl := range doc.clauses {
		if sectionMatches(cl.SectionLabel, c.ID, c.Title) {
			scope = append(scope, i)
		}
	}
	f.SectionMatched = len(scope) > 0
	if !f.SectionMatched {
		scope = make([]int, doc.len())
		for i := range scope {
			scope[i] = i
		}
	}

	keywords := compilePhrases(c.Keywords)
	if len(keywords) == 0 {
		return f
	}
	for _, kw := range keywords {
		for _, i := range scope {
			if kw.in(doc.tokens[i]) {
				f.MatchedKeywords = append(f.MatchedKeywords, kw.raw)
				break
			}
		}
	}

	f.KeywordCoverage = round(float64(len(f.MatchedKeywords))/float64(len(keywords))*100, 1)
	switch {
	case f.KeywordCoverage >= set.PresentThreshold:
		f.Status = Present
	case f.KeywordCoverage >= set.PartialThreshold:
		f.Status = Partial
	}
	return f
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func clamp(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 100:
		return 100
	default:
		return x
	}
}
