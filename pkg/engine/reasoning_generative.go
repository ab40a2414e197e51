package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/policyguard/pkg/catalog"
)

// TextGenerator is a generative text backend.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerativeReasoner asks a text backend for the reasoning and falls back
// to the rule-based output on any failure.
type GenerativeReasoner struct {
	generator TextGenerator
	rules     *RuleBasedReasoner
	timeout   time.Duration
}

// NewGenerativeReasoner wraps gen. rules provides the fallback output and
// the remediation plans.
func NewGenerativeReasoner(gen TextGenerator, rules *RuleBasedReasoner, timeout time.Duration) *GenerativeReasoner {
	if rules == nil {
		rules = NewRuleBasedReasoner(nil, nil)
	}
	return &GenerativeReasoner{generator: gen, rules: rules, timeout: timeout}
}

func (g *GenerativeReasoner) Name() string { return SourceGenerative }

// Reason returns the generated reasoning. When the backend fails, times
// out, or answers with something unparseable it returns the rule-based
// output with Source set to rule_based_fallback and an ErrModelUnavailable
// error.
func (g *GenerativeReasoner) Reason(ctx context.Context, in ReasoningInput) (Reasoning, error) {
	if err := ctx.Err(); err != nil {
		return Reasoning{}, err
	}
	base := g.rules.reason(in)
	fallback := func(err error) (Reasoning, error) {
		base.Source = SourceFallback
		return base, unavailable("reasoning backend", err)
	}
	if g.generator == nil {
		return fallback(errors.New("no generator configured"))
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	text, err := g.generator.Generate(callCtx, reasoningPrompt(in))
	if err != nil {
		if ctx.Err() != nil {
			return Reasoning{}, ctx.Err()
		}
		return fallback(err)
	}
	reply, err := parseGenerated(text)
	if err != nil {
		return fallback(err)
	}
	return mergeGenerated(base, reply, len(in.Clauses)), nil
}

type generatedGap struct {
	ControlID   string `json:"control_id"`
	Explanation string `json:"explanation"`
}

type generatedRewrite struct {
	ClauseIndex int    `json:"clause_index"`
	Rewritten   string `json:"rewritten"`
}

type generatedReply struct {
	ExecutiveSummary string                  `json:"executive_summary"`
	Gaps             []generatedGap          `json:"gap_explanations"`
	Suggestions      []string                `json:"improvement_suggestions"`
	Rewrites         []generatedRewrite      `json:"rewritten_clauses"`
	PillarImpact     map[string]PillarImpact `json:"cia_impact"`
	Confidence       *float64                `json:"reasoning_confidence"`
}

// parseGenerated extracts the JSON object from a model reply, which is
// often wrapped in prose or a code fence.
func parseGenerated(text string) (generatedReply, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return generatedReply{}, errors.New("reply contains no JSON object")
	}
	var reply generatedReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return generatedReply{}, fmt.Errorf("failed to parse reply: %w", err)
	}
	if strings.TrimSpace(reply.ExecutiveSummary) == "" {
		return generatedReply{}, errors.New("reply has no executive summary")
	}
	return reply, nil
}

// mergeGenerated overlays the reply on the rule-based output so that the
// schema, ranking and remediation plans stay identical across strategies.
func mergeGenerated(base Reasoning, reply generatedReply, clauses int) Reasoning {
	out := base
	out.Source = SourceGenerative
	out.ExecutiveSummary = strings.TrimSpace(reply.ExecutiveSummary)

	explain := make(map[string]string, len(reply.Gaps))
	for _, g := range reply.Gaps {
		if g.Explanation != "" {
			explain[g.ControlID] = strings.TrimSpace(g.Explanation)
		}
	}
	out.Gaps = make([]GapExplanation, len(base.Gaps))
	for i, g := range base.Gaps {
		if e, ok := explain[g.ControlID]; ok {
			g.Explanation = e
		}
		out.Gaps[i] = g
	}

	if len(reply.Suggestions) > 0 {
		out.Suggestions = reply.Suggestions
	}

	if len(reply.Rewrites) > 0 {
		out.Rewrites = []ClauseRewrite{}
		original := make(map[int]string, len(base.Rewrites))
		for _, rw := range base.Rewrites {
			original[rw.ClauseIndex] = rw.Original
		}
		for _, rw := range reply.Rewrites {
			if rw.ClauseIndex < 0 || rw.ClauseIndex >= clauses || rw.Rewritten == "" {
				continue
			}
			out.Rewrites = append(out.Rewrites, ClauseRewrite{
				ClauseIndex: rw.ClauseIndex,
				Original:    original[rw.ClauseIndex],
				Rewritten:   rw.Rewritten,
			})
			if len(out.Rewrites) == maxRewrites {
				break
			}
		}
	}

	out.PillarImpact = make(map[catalog.Pillar]PillarImpact, len(base.PillarImpact))
	for p, impact := range base.PillarImpact {
		if got, ok := reply.PillarImpact[string(p)]; ok && (got.Status == ImpactAtRisk || got.Status == ImpactCovered) {
			impact = got
		}
		out.PillarImpact[p] = impact
	}

	if reply.Confidence != nil {
		out.Confidence = round(clamp(*reply.Confidence)*base.Confidence/100, 2)
	}
	return out
}

func reasoningPrompt(in ReasoningInput) string {
	var sb strings.Builder
	sb.WriteString("You are an ISO compliance expert. Based on the gap analysis below, provide:\n")
	sb.WriteString("1. A concise executive summary (2-3 sentences).\n")
	sb.WriteString("2. For each major gap, explain the compliance risk and CIA impact.\n")
	sb.WriteString("3. Suggest 3-5 prioritized improvements.\n")
	sb.WriteString("4. Rewrite 1-2 weak clauses in professional mandatory language.\n")
	sb.WriteString("5. Classify each CIA pillar as at_risk or covered.\n")
	sb.WriteString("6. Give a confidence score (0-100) for how well the document meets the framework.\n\n")
	sb.WriteString("Answer with a single JSON object and nothing else, using this shape:\n")
	sb.WriteString(`{"executive_summary": "", "gap_explanations": [{"control_id": "", "explanation": ""}], ` +
		`"improvement_suggestions": [""], "rewritten_clauses": [{"clause_index": 0, "rewritten": ""}], ` +
		`"cia_impact": {"confidentiality": {"status": "at_risk", "reason": ""}}, "reasoning_confidence": 0}`)
	sb.WriteString("\n\n=== GAP ANALYSIS ===\n")
	sb.WriteString(gapContext(in))
	return sb.String()
}

func gapContext(in ReasoningInput) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Framework: %s (%s)", in.Framework.Name, in.Framework.ID))

	lines = append(lines, "\n-- Structural Gaps --")
	gaps := 0
	for _, f := range in.Structural.Findings {
		if f.Status == Present || gaps == 8 {
			continue
		}
		gaps++
		lines = append(lines, fmt.Sprintf("  %s %s: %s (keyword coverage %s%%)",
			f.ControlID, f.Title, f.Status, formatScore(f.KeywordCoverage)))
	}
	if gaps == 0 {
		lines = append(lines, "  None.")
	}

	lines = append(lines, "\n-- Weak Clauses --")
	if len(in.Semantic.WeakClauses) == 0 {
		lines = append(lines, "  All clauses have strong semantic matches.")
	}
	for i, wc := range in.Semantic.WeakClauses {
		if i == 8 {
			break
		}
		lines = append(lines, fmt.Sprintf("  [%d] %q: %s", wc.ClauseIndex, wc.Clause, wc.Reason))
	}

	lines = append(lines, "\n-- Missing Controls --")
	for i, mc := range in.Semantic.MissingControls {
		if i == 8 {
			break
		}
		lines = append(lines, fmt.Sprintf("  %s: %s [%s]", mc.ControlID, mc.Title, mc.Priority))
	}

	cov := in.CIA.Coverage
	lines = append(lines, "\n-- CIA Coverage --")
	lines = append(lines, fmt.Sprintf("  C=%.1f%% I=%.1f%% A=%.1f%%", cov.Confidentiality, cov.Integrity, cov.Availability))
	lines = append(lines, fmt.Sprintf("  Balance Index: %s", formatScore(in.CIA.BalanceIndex)))

	lines = append(lines, fmt.Sprintf("\nStructural Score: %s", formatScore(in.Structural.Score)))
	lines = append(lines, fmt.Sprintf("Semantic Score:   %s", formatScore(in.Semantic.Score)))
	return strings.Join(lines, "\n")
}
