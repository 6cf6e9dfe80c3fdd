// Package centroid reduces a batch of face embeddings of one person into a
// single representative profile vector.
package centroid

import (
	"fmt"
	"slices"
	"strings"
)

// Strategy aggregates a non-empty batch of equal-length vectors.
type Strategy func(vectors [][]float32) []float32

// Aggregation strategy names accepted by ByName.
const (
	StrategyMean    = "mean"
	StrategyTrimmed = "trimmed"
)

// ByName returns the strategy registered under name. trim is only used by the
// trimmed mean. An empty name selects the plain mean.
func ByName(name string, trim float64) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyMean:
		return Mean, nil
	case StrategyTrimmed:
		if trim < 0 || trim >= 0.5 {
			return nil, fmt.Errorf("trim fraction must be in [0, 0.5), got %v", trim)
		}
		return func(vectors [][]float32) []float32 {
			return TrimmedMean(vectors, trim)
		}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation strategy: %s", name)
	}
}

// Mean returns the component-wise arithmetic mean of vectors. Sums are
// accumulated in float64 so the result does not depend on batch order beyond
// final rounding. Panics on an empty batch or on vectors of differing length.
func Mean(vectors [][]float32) []float32 {
	dim := checkBatch(vectors)

	sums := make([]float64, dim)
	for _, vec := range vectors {
		for i, v := range vec {
			sums[i] += float64(v)
		}
	}

	n := float64(len(vectors))
	out := make([]float32, dim)
	for i, s := range sums {
		out[i] = float32(s / n)
	}
	return out
}

// TrimmedMean drops floor(n*trim) of the lowest and highest values in each
// dimension before averaging. When nothing would be dropped it equals Mean.
func TrimmedMean(vectors [][]float32, trim float64) []float32 {
	dim := checkBatch(vectors)

	n := len(vectors)
	cut := int(float64(n) * trim)
	if cut <= 0 || 2*cut >= n {
		return Mean(vectors)
	}

	out := make([]float32, dim)
	column := make([]float64, n)
	for i := range dim {
		for j, vec := range vectors {
			column[j] = float64(vec[i])
		}
		slices.Sort(column)

		var sum float64
		for _, v := range column[cut : n-cut] {
			sum += v
		}
		out[i] = float32(sum / float64(n-2*cut))
	}
	return out
}

func checkBatch(vectors [][]float32) int {
	if len(vectors) == 0 {
		panic("centroid: empty batch")
	}
	dim := len(vectors[0])
	for i, vec := range vectors {
		if len(vec) != dim {
			panic(fmt.Sprintf("centroid: vector %d has length %d, want %d", i, len(vec), dim))
		}
	}
	return dim
}
