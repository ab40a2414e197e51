package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

const defaultHashingDims = 384

// Hashing is an offline provider that projects stemmed unigrams and bigrams
// into a fixed number of signed buckets. It needs no model files and is the
// default when no neural provider is configured.
type Hashing struct {
	dims int
}

func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = defaultHashingDims
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) ModelVersion() string {
	return fmt.Sprintf("hashing-v1/%d", h.dims)
}

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	v := make([]float32, h.dims)
	terms := stemmedTerms(text)
	for i, term := range terms {
		h.add(v, "u:"+term, 1)
		if i > 0 {
			h.add(v, "b:"+terms[i-1]+" "+term, 0.5)
		}
	}
	normalize(v)
	return v
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func stemmedTerms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := words[:0]
	for _, w := range words {
		if english.IsStopWord(w) {
			continue
		}
		terms = append(terms, english.Stem(w, false))
	}
	return terms
}
