// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Search constants
const (
	// DefaultTopK is the number of lookalikes returned to the user
	DefaultTopK = 3

	// MaxTopK caps the k a caller may request through the API
	MaxTopK = 100
)

// Enrollment constants
const (
	// DefaultEnrollWorkers is the default number of parallel embedding calls during enrollment
	DefaultEnrollWorkers = 4

	// DefaultEnrollMaxImages is the largest batch accepted by a single enrollment
	DefaultEnrollMaxImages = 50
)

// Image constants
const (
	// MaxImageSize is the maximum dimension (width or height) sent to the embedding service
	MaxImageSize = 1920

	// JPEGQuality is the quality used when re-encoding downscaled uploads
	JPEGQuality = 85
)

// File upload constants
const (
	// MaxUploadSize is the maximum request body size in bytes (32MB)
	MaxUploadSize = 32 << 20
)

// Import constants
const (
	// ImportConcurrency is the number of people enrolled in parallel by the bulk import
	ImportConcurrency = 2
)
