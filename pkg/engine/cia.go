package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/user/policyguard/pkg/catalog"
)

const (
	// maxPillarStdev is the population standard deviation of (100, 0, 0).
	maxPillarStdev = 47.14

	idealBandMin = 25.0
	idealBandMax = 40.0

	heatmapSections = 10
)

// CIACoverage holds the per-pillar share of clauses, each computed
// independently; the three values need not sum to 100.
type CIACoverage struct {
	Confidentiality float64 `json:"confidentiality"`
	Integrity       float64 `json:"integrity"`
	Availability    float64 `json:"availability"`
}

// Get returns the coverage of pillar p.
func (c CIACoverage) Get(p catalog.Pillar) float64 {
	switch p {
	case catalog.Confidentiality:
		return c.Confidentiality
	case catalog.Integrity:
		return c.Integrity
	case catalog.Availability:
		return c.Availability
	}
	return 0
}

func (c *CIACoverage) set(p catalog.Pillar, v float64) {
	switch p {
	case catalog.Confidentiality:
		c.Confidentiality = v
	case catalog.Integrity:
		c.Integrity = v
	case catalog.Availability:
		c.Availability = v
	}
}

// Imbalance reports a pillar outside the ideal coverage band.
type Imbalance struct {
	Pillar     catalog.Pillar `json:"category"`
	Direction  string         `json:"type"`
	Percentage float64        `json:"percentage"`
	Distance   float64        `json:"distance"`
	Severity   string         `json:"severity"`
	Note       string         `json:"note"`
}

// HeatmapRow is the pillar mix of one document section.
type HeatmapRow struct {
	Section         string  `json:"section"`
	Clauses         int     `json:"clauses"`
	Confidentiality float64 `json:"confidentiality"`
	Integrity       float64 `json:"integrity"`
	Availability    float64 `json:"availability"`
}

// CIAReport is the document-level CIA analysis, shared by all frameworks.
type CIAReport struct {
	Coverage         CIACoverage  `json:"cia_coverage"`
	BalanceIndex     float64      `json:"cia_balance_index"`
	Rating           string       `json:"balance_rating"`
	Imbalances       []Imbalance  `json:"imbalances"`
	Recommendations  []string     `json:"recommendations"`
	Heatmap          []HeatmapRow `json:"heatmap"`
	TotalClauses     int          `json:"total_clauses"`
	TaggedClauses    int          `json:"tagged_clauses"`
	InsufficientData bool         `json:"insufficient_data"`

	tags [][]catalog.Pillar
}

// BalanceIndex computes the CIA Balance Index of a coverage triple:
// 100 minus the population standard deviation normalised by its maximum.
func BalanceIndex(cov CIACoverage) float64 {
	vals := []float64{cov.Confidentiality, cov.Integrity, cov.Availability}
	mean := (vals[0] + vals[1] + vals[2]) / 3
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(ss / 3)
	return clamp(round(100-sd/maxPillarStdev*100, 2))
}

// Rating maps a 0-100 score onto the shared grade bands.
func Rating(score float64) string {
	switch {
	case score >= 85:
		return "Excellent"
	case score >= 70:
		return "Good"
	case score >= 50:
		return "Fair"
	default:
		return "Poor"
	}
}

// AnalyzeCIA tags each clause with every pillar its text mentions. A clause
// without lexicon hits takes the pillar in fallback[i], when one is given.
func AnalyzeCIA(clauses []Clause, lex *Lexicon, fallback []catalog.Pillar) CIAReport {
	return analyzeCIA(newDocument(clauses), lex, fallback)
}

func analyzeCIA(doc *document, lex *Lexicon, fallback []catalog.Pillar) CIAReport {
	n := doc.len()
	report := CIAReport{
		TotalClauses: n,
		Imbalances:   []Imbalance{},
		Heatmap:      []HeatmapRow{},
		tags:         make([][]catalog.Pillar, n),
	}

	counts := make(map[catalog.Pillar]int, len(catalog.Pillars))
	for i := 0; i < n; i++ {
		tags := lex.pillarHits(doc.tokens[i])
		if len(tags) == 0 && i < len(fallback) && fallback[i] != "" {
			tags = []catalog.Pillar{fallback[i]}
		}
		report.tags[i] = tags
		if len(tags) > 0 {
			report.TaggedClauses++
		}
		for _, p := range tags {
			counts[p]++
		}
	}

	if n > 0 {
		for _, p := range catalog.Pillars {
			report.Coverage.set(p, round(float64(counts[p])/float64(n)*100, 2))
		}
	}

	report.InsufficientData = report.TaggedClauses == 0
	if report.InsufficientData {
		report.BalanceIndex = 0
	} else {
		report.BalanceIndex = BalanceIndex(report.Coverage)
	}
	report.Rating = Rating(report.BalanceIndex)
	report.Imbalances = findImbalances(report.Coverage)
	report.Recommendations = ciaRecommendations(report)
	report.Heatmap = heatmap(doc, report.tags)
	return report
}

func findImbalances(cov CIACoverage) []Imbalance {
	out := []Imbalance{}
	for _, p := range catalog.Pillars {
		v := cov.Get(p)
		var im Imbalance
		switch {
		case v < idealBandMin:
			im = Imbalance{
				Direction: "under_covered",
				Distance:  round(idealBandMin-v, 2),
				Note:      fmt.Sprintf("%s controls are under-represented", p.Title()),
			}
		case v > idealBandMax:
			im = Imbalance{
				Direction: "over_covered",
				Distance:  round(v-idealBandMax, 2),
				Note:      fmt.Sprintf("Over-emphasis on %s may indicate neglect of other areas", p.Title()),
			}
		default:
			continue
		}
		im.Pillar = p
		im.Percentage = v
		im.Severity = imbalanceSeverity(im.Distance)
		out = append(out, im)
	}
	return out
}

func imbalanceSeverity(d float64) string {
	switch {
	case d <= 5:
		return "Low"
	case d <= 10:
		return "Medium"
	default:
		return "High"
	}
}

func ciaRecommendations(r CIAReport) []string {
	if r.InsufficientData {
		return []string{"Not enough pillar-related content to assess CIA balance. Describe confidentiality, integrity and availability controls explicitly."}
	}
	var recs []string
	for _, im := range r.Imbalances {
		if im.Direction != "under_covered" {
			continue
		}
		recs = append(recs, fmt.Sprintf(
			"Strengthen %s controls: currently at %.1f%%, should be %.0f-%.0f%%. Add controls related to %s.",
			strings.ToUpper(string(im.Pillar)), im.Percentage, idealBandMin, idealBandMax, pillarDescriptions[im.Pillar]))
	}
	if len(r.Imbalances) == 0 {
		recs = append(recs, "CIA coverage is well-balanced across all three pillars.")
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

// heatmap summarises the pillar mix of the largest sections, ties broken by
// first appearance.
func heatmap(doc *document, tags [][]catalog.Pillar) []HeatmapRow {
	type acc struct {
		row    HeatmapRow
		counts map[catalog.Pillar]int
	}
	var order []string
	sections := make(map[string]*acc)
	for i, c := range doc.clauses {
		label := strings.TrimSpace(c.SectionLabel)
		if label == "" {
			label = "Unlabeled"
		}
		a, ok := sections[label]
		if !ok {
			a = &acc{row: HeatmapRow{Section: label}, counts: make(map[catalog.Pillar]int)}
			sections[label] = a
			order = append(order, label)
		}
		a.row.Clauses++
		for _, p := range tags[i] {
			a.counts[p]++
		}
	}

	rows := make([]HeatmapRow, 0, len(order))
	for _, label := range order {
		a := sections[label]
		total := float64(a.row.Clauses)
		a.row.Confidentiality = round(float64(a.counts[catalog.Confidentiality])/total*100, 1)
		a.row.Integrity = round(float64(a.counts[catalog.Integrity])/total*100, 1)
		a.row.Availability = round(float64(a.counts[catalog.Availability])/total*100, 1)
		rows = append(rows, a.row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Clauses > rows[j].Clauses })
	if len(rows) > heatmapSections {
		rows = rows[:heatmapSections]
	}
	return rows
}
