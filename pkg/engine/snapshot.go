package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultBaselinePath is where baselines are written when no path is given.
const DefaultBaselinePath = ".policyguard-baseline.json"

// BaselineGap is one missing control recorded in a baseline.
type BaselineGap struct {
	Framework string `json:"framework"`
	ControlID string `json:"control_id"`
	Title     string `json:"title"`
	Priority  string `json:"priority"`
}

func (g BaselineGap) key() string { return g.Framework + "/" + g.ControlID }

// Baseline is a saved summary of an analysis used to track progress.
type Baseline struct {
	CreatedAt time.Time          `json:"created_at"`
	CCI       map[string]float64 `json:"cci"`
	Gaps      []BaselineGap      `json:"gaps"`
}

// NewBaseline records the per-framework CCI and missing controls of res.
func NewBaseline(res *AnalyzeResult, at time.Time) Baseline {
	b := Baseline{CreatedAt: at.UTC(), CCI: map[string]float64{}, Gaps: []BaselineGap{}}
	for _, id := range res.Frameworks {
		fr, ok := res.ComplianceResults[id]
		if !ok || !fr.Valid || fr.Error != "" {
			continue
		}
		b.CCI[id] = fr.CCI
		for _, mc := range fr.MissingControls {
			b.Gaps = append(b.Gaps, BaselineGap{
				Framework: id,
				ControlID: mc.ControlID,
				Title:     mc.Title,
				Priority:  string(mc.Priority),
			})
		}
	}
	return b
}

// Save writes the baseline as JSON.
func (b Baseline) Save(path string) error {
	if path == "" {
		path = DefaultBaselinePath
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// LoadBaseline reads a baseline written by Save.
func LoadBaseline(path string) (Baseline, error) {
	if path == "" {
		path = DefaultBaselinePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Baseline{}, err
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, fmt.Errorf("failed to parse baseline %s: %w", path, err)
	}
	return b, nil
}

// BaselineDiff classifies gaps as new, fixed or unchanged since a baseline.
type BaselineDiff struct {
	New       []BaselineGap      `json:"new"`
	Fixed     []BaselineGap      `json:"fixed"`
	Unchanged []BaselineGap      `json:"unchanged"`
	CCIDelta  map[string]float64 `json:"cci_delta"`
}

// CompareBaseline diffs current against baseline. CCIDelta only covers
// frameworks present in both.
func CompareBaseline(current, baseline Baseline) BaselineDiff {
	d := BaselineDiff{
		New:       []BaselineGap{},
		Fixed:     []BaselineGap{},
		Unchanged: []BaselineGap{},
		CCIDelta:  map[string]float64{},
	}

	before := make(map[string]bool, len(baseline.Gaps))
	for _, g := range baseline.Gaps {
		before[g.key()] = true
	}
	now := make(map[string]bool, len(current.Gaps))
	for _, g := range current.Gaps {
		now[g.key()] = true
		if before[g.key()] {
			d.Unchanged = append(d.Unchanged, g)
		} else {
			d.New = append(d.New, g)
		}
	}
	for _, g := range baseline.Gaps {
		// A fixed gap only counts for frameworks analyzed this time.
		if _, analyzed := current.CCI[g.Framework]; analyzed && !now[g.key()] {
			d.Fixed = append(d.Fixed, g)
		}
	}

	for id, cci := range current.CCI {
		if prev, ok := baseline.CCI[id]; ok {
			d.CCIDelta[id] = round(cci-prev, 1)
		}
	}
	return d
}

// Report renders the diff for terminal output.
func (d BaselineDiff) Report(source string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Baseline Comparison (vs %s):\n", source))
	sb.WriteString("--------------------------------------------------\n")

	ids := make([]string, 0, len(d.CCIDelta))
	for id := range d.CCIDelta {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sb.WriteString(fmt.Sprintf("CCI %s: %+.1f\n", id, d.CCIDelta[id]))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("NEW GAPS: %d\n", len(d.New)))
	for _, g := range d.New {
		sb.WriteString(fmt.Sprintf("  [+] [%s] %s %s (%s)\n", g.Priority, g.Framework, g.ControlID, g.Title))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("FIXED GAPS: %d\n", len(d.Fixed)))
	for _, g := range d.Fixed {
		sb.WriteString(fmt.Sprintf("  [-] [%s] %s %s (%s)\n", g.Priority, g.Framework, g.ControlID, g.Title))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("UNCHANGED GAPS: %d\n", len(d.Unchanged)))
	for i, g := range d.Unchanged {
		if i == 10 {
			sb.WriteString(fmt.Sprintf("  ... and %d more.\n", len(d.Unchanged)-10))
			break
		}
		sb.WriteString(fmt.Sprintf("  [=] [%s] %s %s (%s)\n", g.Priority, g.Framework, g.ControlID, g.Title))
	}
	return sb.String()
}
