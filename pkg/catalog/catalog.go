package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFramework is returned when a framework id has no loaded catalog.
var ErrUnknownFramework = errors.New("unknown framework")

// Pillar is one of the three CIA protection dimensions.
type Pillar string

const (
	Confidentiality Pillar = "confidentiality"
	Integrity       Pillar = "integrity"
	Availability    Pillar = "availability"
)

// Pillars lists the CIA pillars in reporting order.
var Pillars = []Pillar{Confidentiality, Integrity, Availability}

// Valid reports whether p is empty or a known pillar.
func (p Pillar) Valid() bool {
	switch p {
	case "", Confidentiality, Integrity, Availability:
		return true
	}
	return false
}

// Title returns the capitalized pillar name.
func (p Pillar) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// Priority ranks how urgent a missing control is.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// Rank orders priorities from most to least urgent. Unknown values rank as Medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Control is a single requirement defined by a framework.
type Control struct {
	ID          string   `yaml:"id" json:"control_id"`
	Title       string   `yaml:"title" json:"title"`
	Category    string   `yaml:"category" json:"category"`
	Priority    Priority `yaml:"priority" json:"priority"`
	Pillar      Pillar   `yaml:"pillar,omitempty" json:"pillar,omitempty"`
	Keywords    []string `yaml:"keywords" json:"reference_keywords"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	// Related holds "framework:control" references to equivalent controls.
	Related []string `yaml:"related,omitempty" json:"related,omitempty"`
}

// EmbeddingText is the text embedded for semantic matching.
func (c Control) EmbeddingText() string {
	text := c.Title
	if c.Description != "" {
		text += ". " + c.Description
	}
	if len(c.Keywords) > 0 {
		text += ": " + strings.Join(c.Keywords, ", ")
	}
	return text
}

// Settings holds the per-framework scoring thresholds.
type Settings struct {
	PresentThreshold  float64 `yaml:"present_threshold"`
	PartialThreshold  float64 `yaml:"partial_threshold"`
	StrongSimilarity  float64 `yaml:"strong_similarity"`
	PartialSimilarity float64 `yaml:"partial_similarity"`
	SimilarityFloor   float64 `yaml:"similarity_floor"`
	TopK              int     `yaml:"top_k"`
}

// DefaultSettings returns the thresholds used when a catalog does not override them.
func DefaultSettings() Settings {
	return Settings{
		PresentThreshold:  70,
		PartialThreshold:  30,
		StrongSimilarity:  0.70,
		PartialSimilarity: 0.45,
		SimilarityFloor:   0.30,
		TopK:              3,
	}
}

// Validate checks that the thresholds are ordered and in range.
func (s Settings) Validate() error {
	if s.PartialThreshold < 0 || s.PresentThreshold > 100 || s.PartialThreshold >= s.PresentThreshold {
		return fmt.Errorf("structural thresholds must satisfy 0 <= partial (%.1f) < present (%.1f) <= 100",
			s.PartialThreshold, s.PresentThreshold)
	}
	if s.SimilarityFloor < 0 || s.SimilarityFloor > s.PartialSimilarity ||
		s.PartialSimilarity >= s.StrongSimilarity || s.StrongSimilarity > 1 {
		return fmt.Errorf("similarity thresholds must satisfy 0 <= floor (%.2f) <= partial (%.2f) < strong (%.2f) <= 1",
			s.SimilarityFloor, s.PartialSimilarity, s.StrongSimilarity)
	}
	if s.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", s.TopK)
	}
	return nil
}

// Framework is the catalog of one compliance framework.
type Framework struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Version     string    `yaml:"version"`
	Description string    `yaml:"description"`
	Settings    Settings  `yaml:"settings"`
	Controls    []Control `yaml:"controls"`
}

// Control returns the control with the given id.
func (f *Framework) Control(id string) (Control, bool) {
	for _, c := range f.Controls {
		if c.ID == id {
			return c, true
		}
	}
	return Control{}, false
}

// Validate normalizes defaults and checks the catalog for consistency.
// A catalog with zero controls is accepted; the pipeline reports it as invalid.
func (f *Framework) Validate() error {
	f.ID = strings.ToLower(strings.TrimSpace(f.ID))
	if f.ID == "" {
		return errors.New("framework id must be set")
	}
	if f.Name == "" {
		f.Name = f.ID
	}
	if err := f.Settings.Validate(); err != nil {
		return fmt.Errorf("framework %q: %w", f.ID, err)
	}

	seen := make(map[string]bool, len(f.Controls))
	for i := range f.Controls {
		c := &f.Controls[i]
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return fmt.Errorf("framework %q: control #%d has no id", f.ID, i+1)
		}
		if seen[c.ID] {
			return fmt.Errorf("framework %q: duplicate control id %q", f.ID, c.ID)
		}
		seen[c.ID] = true
		if c.Title == "" {
			return fmt.Errorf("framework %q: control %q has no title", f.ID, c.ID)
		}
		c.Pillar = Pillar(strings.ToLower(string(c.Pillar)))
		if !c.Pillar.Valid() {
			return fmt.Errorf("framework %q: control %q has unknown pillar %q", f.ID, c.ID, c.Pillar)
		}
		if c.Priority == "" {
			c.Priority = PriorityMedium
		}
		if c.Category == "" {
			c.Category = "General"
		}
		for j, kw := range c.Keywords {
			c.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return nil
}
