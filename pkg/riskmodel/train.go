package riskmodel

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// TrainOptions controls forest training.
type TrainOptions struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	Seed            int64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

// Train fits a random forest on X (rows of len(FeatureNames) values) and
// labels y (indexes into Classes). The same inputs and options always
// produce the same forest.
func Train(X [][]float64, y []int, opts TrainOptions) (*Forest, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("need matching non-empty samples and labels, got %d and %d", len(X), len(y))
	}
	if opts.Trees < 1 || opts.MaxDepth < 1 {
		return nil, errors.New("trees and max depth must be positive")
	}
	if opts.MinSamplesSplit < 2 {
		opts.MinSamplesSplit = 2
	}
	nf := len(FeatureNames)
	for i, row := range X {
		if len(row) != nf {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), nf)
		}
		if y[i] < 0 || y[i] >= len(Classes) {
			return nil, fmt.Errorf("sample %d has label %d out of range", i, y[i])
		}
	}

	scaler := fitScaler(X)
	scaled := make([][]float64, len(X))
	for i, row := range X {
		scaled[i] = scaler.transform(row)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	b := &builder{
		X:        scaled,
		y:        y,
		maxDepth: opts.MaxDepth,
		minSplit: opts.MinSamplesSplit,
		mtry:     max(1, int(math.Sqrt(float64(nf)))),
		rng:      rng,
	}

	trees := make([]Tree, opts.Trees)
	for t := range trees {
		sample := make([]int, len(X))
		for i := range sample {
			sample[i] = rng.Intn(len(X))
		}
		b.nodes = nil
		b.grow(sample, 0)
		trees[t] = Tree{Nodes: b.nodes}
	}

	return &Forest{
		Format:   artifactFormat,
		Classes:  append([]string(nil), Classes...),
		Features: append([]string(nil), FeatureNames...),
		MaxDepth: opts.MaxDepth,
		Seed:     opts.Seed,
		Scaler:   scaler,
		Trees:    trees,
	}, nil
}

// fitScaler uses the population standard deviation; constant features get
// scale 1.
func fitScaler(X [][]float64) Scaler {
	nf := len(X[0])
	s := Scaler{Mean: make([]float64, nf), Scale: make([]float64, nf)}
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s
}

type builder struct {
	X        [][]float64
	y        []int
	maxDepth int
	minSplit int
	mtry     int
	rng      *rand.Rand
	nodes    []Node
}

// grow appends the subtree for samples and returns its root index.
func (b *builder) grow(samples []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})

	counts := b.counts(samples)
	parentGini := gini(counts, len(samples))
	if depth >= b.maxDepth || len(samples) < b.minSplit || parentGini == 0 {
		b.nodes[idx].Dist = distribution(counts, len(samples))
		return idx
	}

	feature, threshold, ok := b.bestSplit(samples, parentGini)
	if !ok {
		b.nodes[idx].Dist = distribution(counts, len(samples))
		return idx
	}

	var left, right []int
	for _, s := range samples {
		if b.X[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return idx
}

// bestSplit draws mtry candidate features and falls through to the rest only
// when none of them can split the node.
func (b *builder) bestSplit(samples []int, parentGini float64) (int, float64, bool) {
	perm := b.rng.Perm(len(FeatureNames))
	bestFeature, bestThreshold := -1, 0.0
	bestScore := parentGini - 1e-12

	for i, f := range perm {
		if i >= b.mtry && bestFeature >= 0 {
			break
		}
		threshold, score, ok := b.splitFeature(samples, f)
		if ok && score < bestScore {
			bestFeature, bestThreshold, bestScore = f, threshold, score
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// splitFeature returns the midpoint threshold with the lowest weighted Gini
// impurity for feature f.
func (b *builder) splitFeature(samples []int, f int) (float64, float64, bool) {
	order := append([]int(nil), samples...)
	sort.SliceStable(order, func(i, j int) bool {
		return b.X[order[i]][f] < b.X[order[j]][f]
	})

	n := len(order)
	right := b.counts(order)
	left := make([]int, len(Classes))

	bestScore := math.Inf(1)
	bestThreshold := 0.0
	found := false
	for i := 0; i < n-1; i++ {
		c := b.y[order[i]]
		left[c]++
		right[c]--

		cur, next := b.X[order[i]][f], b.X[order[i+1]][f]
		if cur == next {
			continue
		}
		nl, nr := i+1, n-i-1
		score := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
		if score < bestScore {
			bestScore = score
			bestThreshold = cur + (next-cur)/2
			found = true
		}
	}
	return bestThreshold, bestScore, found
}

func (b *builder) counts(samples []int) []int {
	c := make([]int, len(Classes))
	for _, s := range samples {
		c[b.y[s]]++
	}
	return c
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func distribution(counts []int, n int) []float64 {
	d := make([]float64, len(counts))
	if n == 0 {
		return d
	}
	for i, c := range counts {
		d[i] = float64(c) / float64(n)
	}
	return d
}
