package database

import (
	"context"
)

// CentroidReader provides read-only access to person profiles
type CentroidReader interface {
	// RankedSearch returns the k enrolled profiles most similar to query,
	// by descending similarity with ties broken by insertion order. k <= 0 returns nothing.
	RankedSearch(ctx context.Context, query []float32, k int) ([]MatchResult, error)
	// GetProfile returns the profile or ErrNotFound
	GetProfile(ctx context.Context, id string) (*PersonProfile, error)
	// Count returns the total and enrolled number of profiles
	Count(ctx context.Context) (ProfileCounts, error)
}

// CentroidWriter provides write access to person profiles
type CentroidWriter interface {
	// UpsertCentroid replaces the centroid of a person, creating the profile when
	// missing. Display options are applied in the same atomic write.
	UpsertCentroid(ctx context.Context, id string, centroid []float32, opts ...UpsertOption) error
	// RegisterProfile inserts an unenrolled profile. Returns false when the id already exists.
	RegisterProfile(ctx context.Context, id, displayName string) (bool, error)
	// UpdateDisplayName renames a profile, ErrNotFound when missing
	UpdateDisplayName(ctx context.Context, id, displayName string) error
	// DeleteProfile removes a profile and its vector, ErrNotFound when missing
	DeleteProfile(ctx context.Context, id string) error
}

// ProfileStore is a complete vector store gateway.
type ProfileStore interface {
	CentroidReader
	CentroidWriter
}

// EnrolledLister lists every enrolled profile. Used to (re)build search indexes.
type EnrolledLister interface {
	ListEnrolled(ctx context.Context) ([]PersonProfile, error)
}

// UpsertOptions carries optional display attributes for UpsertCentroid.
// Nil fields are left untouched.
type UpsertOptions struct {
	DisplayName *string
	AvatarRef   *string
}

// UpsertOption modifies UpsertOptions.
type UpsertOption func(*UpsertOptions)

// WithDisplayName sets the display name in the same write as the centroid.
func WithDisplayName(name string) UpsertOption {
	return func(o *UpsertOptions) {
		o.DisplayName = &name
	}
}

// WithAvatar sets the avatar reference in the same write as the centroid.
func WithAvatar(ref string) UpsertOption {
	return func(o *UpsertOptions) {
		o.AvatarRef = &ref
	}
}

// ApplyUpsertOptions folds opts into UpsertOptions.
func ApplyUpsertOptions(opts ...UpsertOption) UpsertOptions {
	var o UpsertOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
