package database

import (
	"time"
)

// PersonProfile is one enrollable person. A nil Centroid means the person has
// not been enrolled yet; such profiles are never searched and never returned.
type PersonProfile struct {
	ID          string
	DisplayName string
	AvatarRef   string // Optional reference to a hosted avatar, opaque to the core
	Centroid    []float32
	Seq         int64 // Insertion order, used as the ranking tie-breaker
	Version     int64 // Bumped on every centroid write
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Enrolled reports whether the profile carries a centroid.
func (p *PersonProfile) Enrolled() bool {
	return len(p.Centroid) > 0
}

// Ref returns the display part of the profile.
func (p *PersonProfile) Ref() PersonRef {
	return PersonRef{ID: p.ID, DisplayName: p.DisplayName, AvatarRef: p.AvatarRef}
}

// PersonRef identifies a matched person for display.
type PersonRef struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

// MatchResult is one ranked hit. Similarity is 1 - cosine distance and is
// reported unclamped, so it may be negative.
type MatchResult struct {
	Person     PersonRef
	Similarity float64
}

// ProfileCounts summarizes the population.
type ProfileCounts struct {
	Total    int64
	Enrolled int64
}

// CopyVector returns an independent copy of v, nil for empty input.
func CopyVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
