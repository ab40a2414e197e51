// Package riskmodel implements the audit-risk random forest: a JSON model
// artifact, probability prediction and deterministic training.
package riskmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Class labels in output order.
var Classes = []string{"Low", "Medium", "High"}

// FeatureNames lists the model inputs in order.
var FeatureNames = []string{
	"missing_controls_count",
	"cia_imbalance_score",
	"weak_statement_frequency",
	"compliance_coverage_pct",
}

const artifactFormat = "policyguard.random_forest/v1"

// Node is one node of a flattened decision tree. Leaves have Feature -1 and
// carry the class distribution of the training samples that reached them.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      int       `json:"left,omitempty"`
	Right     int       `json:"right,omitempty"`
	Dist      []float64 `json:"dist,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Scaler standardises features as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s Scaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// Forest is a trained ensemble. It is read-only after load and safe for
// concurrent use.
type Forest struct {
	Format   string   `json:"format"`
	Classes  []string `json:"classes"`
	Features []string `json:"features"`
	MaxDepth int      `json:"max_depth"`
	Seed     int64    `json:"seed"`
	Scaler   Scaler   `json:"scaler"`
	Trees    []Tree   `json:"trees"`
}

// Predict returns the class probabilities for one feature vector, averaged
// over the per-tree leaf distributions.
func (f *Forest) Predict(ctx context.Context, features []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(features) != len(f.Features) {
		return nil, fmt.Errorf("expected %d features, got %d", len(f.Features), len(features))
	}

	x := f.Scaler.transform(features)
	probs := make([]float64, len(f.Classes))
	for _, t := range f.Trees {
		for c, p := range t.leaf(x) {
			probs[c] += p
		}
	}
	for c := range probs {
		probs[c] /= float64(len(f.Trees))
	}
	return probs, nil
}

func (t Tree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Dist
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Validate checks the artifact's shape so Predict cannot index out of range.
func (f *Forest) Validate() error {
	if f.Format != artifactFormat {
		return fmt.Errorf("unsupported model format %q", f.Format)
	}
	if len(f.Classes) != len(Classes) {
		return fmt.Errorf("model has %d classes, want %d", len(f.Classes), len(Classes))
	}
	for i, c := range Classes {
		if f.Classes[i] != c {
			return fmt.Errorf("model class %d is %q, want %q", i, f.Classes[i], c)
		}
	}
	nf := len(f.Features)
	if nf != len(FeatureNames) || len(f.Scaler.Mean) != nf || len(f.Scaler.Scale) != nf {
		return errors.New("model feature and scaler dimensions do not match")
	}
	for _, s := range f.Scaler.Scale {
		if s == 0 {
			return errors.New("model scaler has a zero scale")
		}
	}
	if len(f.Trees) == 0 {
		return errors.New("model has no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature < 0 {
				if len(n.Dist) != len(f.Classes) {
					return fmt.Errorf("tree %d node %d: leaf distribution has %d classes", ti, ni, len(n.Dist))
				}
				continue
			}
			// Children always follow their parent, which rules out cycles.
			if n.Feature >= nf || n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return nil
}

// Load reads and validates a model artifact.
func Load(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the artifact as JSON, creating parent directories.
func (f *Forest) Save(path string) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
