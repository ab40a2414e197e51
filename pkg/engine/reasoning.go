package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/user/policyguard/pkg/catalog"
)

// Reasoning sources.
const (
	SourceRuleBased  = "rule_based"
	SourceGenerative = "generative"
	SourceFallback   = "rule_based_fallback"
)

// Pillar impact values.
const (
	ImpactAtRisk  = "at_risk"
	ImpactCovered = "covered"
)

const (
	maxGaps          = 10
	maxRewrites      = 2
	maxRemediations  = 3
	weakClauseNotice = 3
)

// ReasoningInput bundles the layer outputs for one framework.
type ReasoningInput struct {
	Framework  *catalog.Framework
	Structural StructuralReport
	Semantic   SemanticReport
	CIA        CIAReport
	Clauses    []Clause
}

// Reasoner turns layer findings into explanations. On failure an
// implementation may return a usable fallback Reasoning together with the
// error; a zero Source means no output was produced.
type Reasoner interface {
	Name() string
	Reason(ctx context.Context, in ReasoningInput) (Reasoning, error)
}

// GapExplanation explains one missing or partial control.
type GapExplanation struct {
	ControlID       string           `json:"control_id"`
	Title           string           `json:"title"`
	Status          ControlStatus    `json:"status"`
	Priority        catalog.Priority `json:"priority"`
	Pillar          catalog.Pillar   `json:"pillar,omitempty"`
	KeywordCoverage float64          `json:"keyword_coverage"`
	Explanation     string           `json:"explanation"`
	Related         []string         `json:"related,omitempty"`
}

// ClauseRewrite is a strengthened version of a weak clause.
type ClauseRewrite struct {
	ClauseIndex int    `json:"clause_index"`
	Original    string `json:"original"`
	Rewritten   string `json:"rewritten"`
}

// PillarImpact classifies one CIA pillar.
type PillarImpact struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Reasoning is the Layer 3 output. Rule-based and generative strategies
// produce the same shape.
type Reasoning struct {
	Source           string                          `json:"source"`
	ExecutiveSummary string                          `json:"executive_summary"`
	Gaps             []GapExplanation                `json:"gap_explanations"`
	Suggestions      []string                        `json:"improvement_suggestions"`
	Rewrites         []ClauseRewrite                 `json:"rewritten_clauses"`
	PillarImpact     map[catalog.Pillar]PillarImpact `json:"cia_impact"`
	Confidence       float64                         `json:"reasoning_confidence"`
	Remediation      []RemediationPlan               `json:"remediation,omitempty"`
}

// RuleBasedReasoner is the deterministic default strategy.
type RuleBasedReasoner struct {
	Lexicon     *Lexicon
	Remediation *RemediationLibrary
	// Crosswalk, when set, resolves related controls in both directions.
	Crosswalk *catalog.Crosswalk
}

// NewRuleBasedReasoner returns a reasoner using lex (defaults when nil) and
// an optional remediation library.
func NewRuleBasedReasoner(lex *Lexicon, lib *RemediationLibrary) *RuleBasedReasoner {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &RuleBasedReasoner{Lexicon: lex, Remediation: lib}
}

func (r *RuleBasedReasoner) Name() string { return SourceRuleBased }

// Reason never fails unless ctx is already done.
func (r *RuleBasedReasoner) Reason(ctx context.Context, in ReasoningInput) (Reasoning, error) {
	if err := ctx.Err(); err != nil {
		return Reasoning{}, err
	}
	return r.reason(in), nil
}

func (r *RuleBasedReasoner) reason(in ReasoningInput) Reasoning {
	out := Reasoning{
		Source:           SourceRuleBased,
		ExecutiveSummary: executiveSummary(in),
		Gaps:             gapExplanations(in, r.Crosswalk),
		Rewrites:         r.rewrites(in),
		PillarImpact:     pillarImpact(in),
		Confidence:       reasoningConfidence(in),
	}
	out.Remediation = r.remediation(in, out.Gaps)
	out.Suggestions = suggestions(in, out.Remediation)
	return out
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func executiveSummary(in ReasoningInput) string {
	fw := strings.ToUpper(in.Framework.ID)
	s, m := in.Structural.Score, in.Semantic.Score
	avg := (s + m) / 2
	if in.Semantic.Degraded {
		avg = s
	}
	switch {
	case avg >= 80:
		return fmt.Sprintf("The document demonstrates strong alignment with %s requirements. "+
			"Structural compliance is at %s%% with semantic similarity at %s%%. "+
			"Minor gaps should be addressed to achieve full compliance.", fw, formatScore(s), formatScore(m))
	case avg >= 50:
		return fmt.Sprintf("The document shows moderate compliance with %s. "+
			"Structural score is %s%% and semantic score is %s%%. "+
			"Several mandatory sections require strengthening or addition.", fw, formatScore(s), formatScore(m))
	default:
		return fmt.Sprintf("Significant gaps detected in %s compliance. "+
			"Structural coverage is only %s%% with semantic alignment at %s%%. "+
			"Comprehensive remediation is required before audit readiness.", fw, formatScore(s), formatScore(m))
	}
}

// gapExplanations ranks missing before partial controls, then by priority,
// then by catalog order.
func gapExplanations(in ReasoningInput, cw *catalog.Crosswalk) []GapExplanation {
	type ranked struct {
		f     StructuralFinding
		order int
	}
	var gaps []ranked
	for i, f := range in.Structural.Findings {
		if f.Status == Present {
			continue
		}
		gaps = append(gaps, ranked{f: f, order: i})
	}
	sort.SliceStable(gaps, func(a, b int) bool {
		ga, gb := gaps[a].f, gaps[b].f
		if ga.Status != gb.Status {
			return ga.Status == Missing
		}
		if ga.Priority.Rank() != gb.Priority.Rank() {
			return ga.Priority.Rank() < gb.Priority.Rank()
		}
		return gaps[a].order < gaps[b].order
	})
	if len(gaps) > maxGaps {
		gaps = gaps[:maxGaps]
	}

	out := make([]GapExplanation, 0, len(gaps))
	for _, g := range gaps {
		f := g.f
		var related []string
		if cw != nil {
			for _, ref := range cw.Related(in.Framework.ID, f.ControlID) {
				related = append(related, ref.String())
			}
		} else if c, ok := in.Framework.Control(f.ControlID); ok {
			related = c.Related
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Control %s (%s) is %s. Keyword coverage is only %s%%.",
			f.ControlID, f.Title, f.Status, formatScore(f.KeywordCoverage))
		if f.Pillar != "" {
			fmt.Fprintf(&sb, " This weakens the %s pillar.", f.Pillar.Title())
		}
		if len(related) > 0 {
			fmt.Fprintf(&sb, " Related: %s.", strings.Join(related, ", "))
		}
		out = append(out, GapExplanation{
			ControlID:       f.ControlID,
			Title:           f.Title,
			Status:          f.Status,
			Priority:        f.Priority,
			Pillar:          f.Pillar,
			KeywordCoverage: f.KeywordCoverage,
			Explanation:     sb.String(),
			Related:         related,
		})
	}
	return out
}

func suggestions(in ReasoningInput, plans []RemediationPlan) []string {
	out := []string{}

	var sections []string
	for _, f := range in.Structural.Findings {
		if f.Status == Missing && len(sections) < 3 {
			sections = append(sections, f.Title)
		}
	}
	if len(sections) > 0 {
		out = append(out, "Add dedicated sections for: "+strings.Join(sections, ", "))
	}

	if len(in.Semantic.WeakClauses) > weakClauseNotice {
		out = append(out, "Rewrite weak policy statements using mandatory language (shall, must, will) "+
			"instead of vague terms (may, should consider).")
	}

	var ids []string
	for _, mc := range in.Semantic.MissingControls {
		if len(ids) == 3 {
			break
		}
		ids = append(ids, mc.ControlID)
	}
	if len(ids) > 0 {
		out = append(out, "Address missing controls: "+strings.Join(ids, ", "))
	}

	for _, im := range in.CIA.Imbalances {
		if im.Direction != "under_covered" {
			continue
		}
		out = append(out, fmt.Sprintf("Add controls that strengthen the %s pillar (currently %s%%).",
			im.Pillar.Title(), formatScore(im.Percentage)))
	}

	for _, p := range plans {
		out = append(out, fmt.Sprintf("Remediate %s: %s", p.ControlID, strings.Join(strings.Fields(p.Action), " ")))
	}
	return out
}

func (r *RuleBasedReasoner) rewrites(in ReasoningInput) []ClauseRewrite {
	out := []ClauseRewrite{}
	for _, wc := range in.Semantic.WeakClauses {
		if len(out) == maxRewrites {
			break
		}
		if !strings.Contains(wc.Reason, "advisory language") {
			continue
		}
		rewritten := r.Lexicon.Rewrite(wc.Clause)
		if rewritten == wc.Clause {
			continue
		}
		out = append(out, ClauseRewrite{ClauseIndex: wc.ClauseIndex, Original: wc.Clause, Rewritten: rewritten})
	}
	return out
}

// remediation renders plans for the top Critical and High priority gaps.
func (r *RuleBasedReasoner) remediation(in ReasoningInput, gaps []GapExplanation) []RemediationPlan {
	if r.Remediation == nil {
		return nil
	}
	var out []RemediationPlan
	for _, g := range gaps {
		if len(out) == maxRemediations {
			break
		}
		if g.Priority.Rank() > catalog.PriorityHigh.Rank() {
			continue
		}
		c, ok := in.Framework.Control(g.ControlID)
		if !ok {
			continue
		}
		plan, err := r.Remediation.PlanFor(in.Framework, c)
		if err != nil {
			continue
		}
		out = append(out, plan)
	}
	return out
}

func pillarImpact(in ReasoningInput) map[catalog.Pillar]PillarImpact {
	out := make(map[catalog.Pillar]PillarImpact, len(catalog.Pillars))
	for _, p := range catalog.Pillars {
		flags := in.Structural.PillarFlags[p]
		cov := in.CIA.Coverage.Get(p)
		switch {
		case len(flags) > 0:
			out[p] = PillarImpact{
				Status: ImpactAtRisk,
				Reason: fmt.Sprintf("Absence of %d control(s) weakens %s pillar.", len(flags), p.Title()),
			}
		case !in.CIA.InsufficientData && cov < idealBandMin:
			out[p] = PillarImpact{
				Status: ImpactAtRisk,
				Reason: fmt.Sprintf("%s coverage is critically low at %s%%.", p.Title(), formatScore(cov)),
			}
		default:
			out[p] = PillarImpact{
				Status: ImpactCovered,
				Reason: fmt.Sprintf("No missing %s controls were detected.", p),
			}
		}
	}
	return out
}

// reasoningConfidence is 100 scaled by the share of layer inputs that were
// actually available.
func reasoningConfidence(in ReasoningInput) float64 {
	n := len(in.Clauses)
	available := 0
	if n > 0 {
		available++
		if !in.Semantic.Degraded {
			available++
		}
	}
	if !in.CIA.InsufficientData && in.CIA.TotalClauses > 0 {
		available++
	}
	return round(100*float64(available)/3, 2)
}
