package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/policyguard/pkg/catalog"
	"github.com/user/policyguard/pkg/embedding"
)

// ComplianceLevel grades one clause-to-control similarity.
type ComplianceLevel string

const (
	LevelStrong  ComplianceLevel = "strong"
	LevelPartial ComplianceLevel = "partial"
	LevelWeak    ComplianceLevel = "weak"
)

// ClauseControlMatch is one retained top-K match.
type ClauseControlMatch struct {
	ClauseIndex int             `json:"clause_index"`
	ControlID   string          `json:"control_id"`
	Similarity  float64         `json:"similarity"`
	Level       ComplianceLevel `json:"compliance_level"`
}

// SemanticReport is the Layer 2 result for one framework.
type SemanticReport struct {
	Matches              []ClauseControlMatch `json:"matches"`
	Score                float64              `json:"semantic_score"`
	StrongCount          int                  `json:"strong_count"`
	PartialCount         int                  `json:"partial_count"`
	WeakCount            int                  `json:"weak_count"`
	MatchedClauses       int                  `json:"matched_clauses"`
	MatchedControls      []string             `json:"matched_controls"`
	MissingControls      []MissingControl     `json:"missing_controls"`
	CompliancePercentage float64              `json:"compliance_percentage"`
	WeakClauses          []WeakClause         `json:"weak_clauses"`
	Degraded             bool                 `json:"degraded"`

	// best holds, per clause, the index into Matches of its best match or -1.
	best []int
}

// classify maps a similarity onto a level. ok is false below the floor.
func classify(sim float64, set catalog.Settings) (ComplianceLevel, bool) {
	switch {
	case sim >= set.StrongSimilarity:
		return LevelStrong, true
	case sim >= set.PartialSimilarity:
		return LevelPartial, true
	case sim >= set.SimilarityFloor:
		return LevelWeak, true
	default:
		return "", false
	}
}

// MatchSemantics scores clause vectors against control vectors. Both slices
// must come from the same embedding model.
func MatchSemantics(fw *catalog.Framework, clauses []Clause, clauseVecs, controlVecs [][]float32, lex *Lexicon) (SemanticReport, error) {
	if len(clauseVecs) != len(clauses) {
		return SemanticReport{}, fmt.Errorf("got %d clause vectors for %d clauses", len(clauseVecs), len(clauses))
	}
	if len(controlVecs) != len(fw.Controls) {
		return SemanticReport{}, fmt.Errorf("got %d control vectors for %d controls", len(controlVecs), len(fw.Controls))
	}
	return matchSemantics(fw, newDocument(clauses), clauseVecs, controlVecs, lex), nil
}

func matchSemantics(fw *catalog.Framework, doc *document, clauseVecs, controlVecs [][]float32, lex *Lexicon) SemanticReport {
	set := fw.Settings
	n := doc.len()
	report := SemanticReport{
		Matches:         []ClauseControlMatch{},
		MatchedControls: []string{},
		MissingControls: []MissingControl{},
		WeakClauses:     []WeakClause{},
		best:            make([]int, n),
	}

	maxSim := make([]float64, len(fw.Controls))
	order := make([]int, len(fw.Controls))
	sims := make([]float64, len(fw.Controls))

	for i := 0; i < n; i++ {
		report.best[i] = -1
		for j := range fw.Controls {
			sims[j] = embedding.Cosine(clauseVecs[i], controlVecs[j])
			if sims[j] > maxSim[j] {
				maxSim[j] = sims[j]
			}
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool { return sims[order[a]] > sims[order[b]] })

		for rank := 0; rank < set.TopK && rank < len(order); rank++ {
			j := order[rank]
			level, ok := classify(sims[j], set)
			if !ok {
				break
			}
			if rank == 0 {
				report.best[i] = len(report.Matches)
			}
			report.Matches = append(report.Matches, ClauseControlMatch{
				ClauseIndex: i,
				ControlID:   fw.Controls[j].ID,
				Similarity:  round(sims[j], 4),
				Level:       level,
			})
		}

		if b := report.best[i]; b >= 0 {
			switch report.Matches[b].Level {
			case LevelStrong:
				report.StrongCount++
				report.MatchedClauses++
			case LevelPartial:
				report.PartialCount++
				report.MatchedClauses++
			default:
				report.WeakCount++
			}
		}
	}

	if n > 0 {
		score := (float64(report.StrongCount) + 0.5*float64(report.PartialCount)) / float64(n) * 100
		report.Score = clamp(round(score, 2))
	}

	matched := make([]bool, len(fw.Controls))
	for j, s := range maxSim {
		matched[j] = n > 0 && s >= set.PartialSimilarity
	}
	report.setControlCoverage(fw, matched)
	report.WeakClauses = weakClauses(doc, lex, report.Matches, report.best)
	return report
}

// semanticFallback is used when the embedding provider is unavailable:
// nothing is matched semantically and control coverage follows the
// structural verdicts.
func semanticFallback(fw *catalog.Framework, doc *document, structural StructuralReport, lex *Lexicon) SemanticReport {
	report := SemanticReport{
		Matches:         []ClauseControlMatch{},
		MatchedControls: []string{},
		MissingControls: []MissingControl{},
		Degraded:        true,
	}
	status := make(map[string]ControlStatus, len(structural.Findings))
	for _, f := range structural.Findings {
		status[f.ControlID] = f.Status
	}
	matched := make([]bool, len(fw.Controls))
	for j, c := range fw.Controls {
		s := status[c.ID]
		matched[j] = s == Present || s == Partial
	}
	report.setControlCoverage(fw, matched)
	report.WeakClauses = weakClauses(doc, lex, nil, nil)
	return report
}

func (r *SemanticReport) setControlCoverage(fw *catalog.Framework, matched []bool) {
	for j, c := range fw.Controls {
		if matched[j] {
			r.MatchedControls = append(r.MatchedControls, c.ID)
			continue
		}
		r.MissingControls = append(r.MissingControls, MissingControl{
			ControlID: c.ID,
			Title:     c.Title,
			Category:  c.Category,
			Priority:  c.Priority,
			Pillar:    c.Pillar,
		})
	}
	sort.SliceStable(r.MissingControls, func(a, b int) bool {
		return r.MissingControls[a].Priority.Rank() < r.MissingControls[b].Priority.Rank()
	})
	if len(fw.Controls) > 0 {
		r.CompliancePercentage = round(float64(len(r.MatchedControls))/float64(len(fw.Controls))*100, 2)
	}
}

// weakClauses flags clauses whose best match is weak or absent, and clauses
// with advisory wording. best is nil when no similarity data exists, in
// which case only advisory wording is reported.
func weakClauses(doc *document, lex *Lexicon, matches []ClauseControlMatch, best []int) []WeakClause {
	out := []WeakClause{}
	for i, c := range doc.clauses {
		var reasons []string
		score := 0.0
		if best != nil {
			switch b := best[i]; {
			case b < 0:
				reasons = append(reasons, "no matching control")
			case matches[b].Level == LevelWeak:
				score = matches[b].Similarity
				reasons = append(reasons, fmt.Sprintf("weak semantic match to %s", matches[b].ControlID))
			default:
				score = matches[b].Similarity
			}
		}
		if ind, ok := lex.weakIndicator(doc.tokens[i]); ok {
			reasons = append(reasons, fmt.Sprintf("advisory language %q", ind))
		}
		if n, short := lex.tooShort(c.Text); short {
			reasons = append(reasons, fmt.Sprintf("too short (%d words)", n))
		}
		if len(reasons) == 0 {
			continue
		}
		out = append(out, WeakClause{
			ClauseIndex: i,
			Clause:      c.Text,
			Reason:      strings.Join(reasons, "; "),
			Score:       score,
		})
	}
	return out
}

// bestMatch returns the clause's best retained match.
func (r *SemanticReport) bestMatch(clause int) (ClauseControlMatch, bool) {
	if clause >= len(r.best) || r.best[clause] < 0 {
		return ClauseControlMatch{}, false
	}
	return r.Matches[r.best[clause]], true
}
