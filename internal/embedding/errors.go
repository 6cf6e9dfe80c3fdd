package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable covers network failures, timeouts, 429 and 5xx answers.
	// Callers may retry.
	ErrUnreachable = errors.New("embedding service unreachable")

	// ErrNoFaceDetected means the service found no usable face in the image.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrMultipleFaces is returned when more than one face is found. It is a
	// flavour of ErrNoFaceDetected: the image is unusable as-is.
	ErrMultipleFaces = fmt.Errorf("%w: multiple faces in image", ErrNoFaceDetected)

	// ErrInvalidImage means the bytes are not a decodable image or the service
	// rejected them with a 4xx status.
	ErrInvalidImage = errors.New("invalid image")

	// ErrUnexpectedDimension means the service returned a vector whose length
	// differs from the configured model dimension.
	ErrUnexpectedDimension = errors.New("unexpected embedding dimension")
)

// Retryable reports whether err is a transient embedding failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsBadInput reports whether err is caused by the image itself.
func IsBadInput(err error) bool {
	return errors.Is(err, ErrNoFaceDetected) || errors.Is(err, ErrInvalidImage)
}
