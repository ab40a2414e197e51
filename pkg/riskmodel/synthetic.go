package riskmodel

import "math/rand"

// classRanges holds the per-class uniform feature ranges of the synthetic
// training set, in FeatureNames order.
var classRanges = [][2][4]float64{
	{{0, 0, 0, 80}, {5, 20, 5, 100}},
	{{5, 20, 5, 50}, {15, 50, 15, 80}},
	{{15, 50, 15, 0}, {50, 100, 50, 50}},
}

// SyntheticData draws n/3 samples per class from classRanges and shuffles
// them. It stands in for labelled audit outcomes until real ones exist.
func SyntheticData(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	per := n / len(classRanges)

	X := make([][]float64, 0, per*len(classRanges))
	y := make([]int, 0, per*len(classRanges))
	for class, r := range classRanges {
		lo, hi := r[0], r[1]
		for i := 0; i < per; i++ {
			row := make([]float64, len(lo))
			for j := range row {
				row[j] = lo[j] + rng.Float64()*(hi[j]-lo[j])
			}
			X = append(X, row)
			y = append(y, class)
		}
	}

	rng.Shuffle(len(X), func(i, j int) {
		X[i], X[j] = X[j], X[i]
		y[i], y[j] = y[j], y[i]
	})
	return X, y
}

// TrainDefault trains the stock model: 300 synthetic samples, 100 trees,
// depth 10, seed 42.
func TrainDefault() (*Forest, error) {
	opts := DefaultTrainOptions()
	X, y := SyntheticData(300, opts.Seed)
	return Train(X, y, opts)
}
