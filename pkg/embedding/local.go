package embedding

import (
	"context"
	"crypto/sha256"
	"math"
	"strings"
)

// LocalProvider is a deterministic, network-free Provider: it hashes
// n-gram-like tokens of the input text into a fixed-dimension vector
// and L2-normalizes the result. Same text always yields the same
// vector. internal/bootstrap builds every service's embedding client
// on it, whatever EMBEDDING_PROVIDER is set to; it also serves tests
// and offline development, where a real embedding API isn't reachable
// or isn't worth the cost.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider constructs a LocalProvider of the given dimension,
// defaulting to DefaultDimension when dimension is not positive.
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &LocalProvider{dimension: dimension}
}

// Embed implements Provider.
func (p *LocalProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = p.embedOne(text)
	}
	return vectors, nil
}

func (p *LocalProvider) embedOne(text string) []float64 {
	vector := make([]float64, p.dimension)
	if text == "" {
		return vector
	}

	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		for i := 0; i < len(sum) && i < p.dimension; i++ {
			bucket := int(sum[i]) % p.dimension
			vector[bucket] += 1.0
		}
	}

	normalize(vector)
	return vector
}

// normalize scales vector to unit L2 norm in place. A zero vector is
// left unchanged.
func normalize(vector []float64) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return
	}
	magnitude := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] /= magnitude
	}
}
