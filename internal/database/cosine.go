package database

import (
	"math"
	"slices"
)

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Zero vectors rank last
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}

// Similarity is the score reported to callers: 1 - cosine distance.
func Similarity(a, b []float32) float64 {
	return 1 - CosineDistance(a, b)
}

// RankByCosine scores every enrolled candidate against query and returns the
// top k by descending similarity, ties broken by ascending Seq. Candidates
// whose centroid length differs from the query fail the whole search.
func RankByCosine(candidates []PersonProfile, query []float32, k int) ([]MatchResult, error) {
	if k <= 0 {
		return []MatchResult{}, nil
	}
	if err := CheckDimension(query, 0); err != nil {
		return nil, err
	}

	type scored struct {
		ref        PersonRef
		seq        int64
		similarity float64
	}

	hits := make([]scored, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		if !p.Enrolled() {
			continue
		}
		if err := CheckDimension(p.Centroid, len(query)); err != nil {
			return nil, err
		}
		hits = append(hits, scored{ref: p.Ref(), seq: p.Seq, similarity: Similarity(query, p.Centroid)})
	}

	slices.SortFunc(hits, func(a, b scored) int {
		switch {
		case a.similarity > b.similarity:
			return -1
		case a.similarity < b.similarity:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]MatchResult, len(hits))
	for i, h := range hits {
		results[i] = MatchResult{Person: h.ref, Similarity: h.similarity}
	}
	return results, nil
}
