// Package embedding maps text to fixed-length vectors for semantic matching.
//
// Providers are loaded once at start-up and shared read-only by every
// analysis. They must be deterministic for the same text and model version.
package embedding

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Provider embeds a batch of texts. The returned slice has one vector per
// input text, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ModelVersion identifies the model so cached vectors are never mixed
	// across models.
	ModelVersion() string
}

// Options selects and configures a provider.
type Options struct {
	Provider   string
	Model      string
	APIKey     string
	Dimensions int
	BatchSize  int
	ModelDir   string
	SeqLen     int
}

// New builds the provider named in opts. Callers should close the result
// when it implements io.Closer.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Provider {
	case "", "hashing":
		return NewHashing(opts.Dimensions), nil
	case "gemini":
		return NewGemini(ctx, opts.APIKey, opts.Model, opts.BatchSize, logger)
	case "onnx":
		return NewONNX(opts.ModelDir, opts.SeqLen, opts.Dimensions, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding noise so callers can rely on [-1, 1].
	return math.Max(-1, math.Min(1, sim))
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
