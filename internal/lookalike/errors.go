package lookalike

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/lookalike/internal/embedding"
)

// Kind classifies an orchestrator failure.
type Kind int

const (
	KindBadInput Kind = iota + 1
	KindServiceUnavailable
	KindInternal
	KindNoUsableImages
	KindEmbeddingFailed
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "bad_input"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindInternal:
		return "internal"
	case KindNoUsableImages:
		return "no_usable_images"
	case KindEmbeddingFailed:
		return "embedding_failed"
	case KindNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Service operation. Message is safe to show to
// end users; Err carries the underlying cause for logs.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrBadInput) works
// regardless of op and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrBadInput           = &Error{Kind: KindBadInput}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrInternal           = &Error{Kind: KindInternal}
	ErrNoUsableImages     = &Error{Kind: KindNoUsableImages}
	ErrEmbeddingFailed    = &Error{Kind: KindEmbeddingFailed}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

// User-facing messages.
const (
	msgNoFace          = "No face could be detected in the image. Please use a clear, front-facing photo."
	msgMultipleFaces   = "More than one face was found in the image. Please use a photo with a single face."
	msgInvalidImage    = "The file could not be read as an image."
	msgEmbedderDown    = "The face recognition service is temporarily unavailable. Please try again."
	msgStoreDown       = "The profile database is temporarily unavailable. Please try again."
	msgCanceled        = "The request was canceled before it completed."
	msgInternal        = "Something went wrong on our side."
	msgNoUsableImages  = "None of the photos could be used. Poor lighting or unusual angles may be the cause; please try again with clearer photos."
	msgReenrollFailed  = "The new photo could not be processed, so your profile was left unchanged."
	msgProfileNotFound = "Profile not found."
)

// KindOf returns the kind of err, 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// MessageOf returns the user-facing message of err, or a generic one.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return msgInternal
}

// Retryable reports whether retrying the same request may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || embedding.Retryable(err)
}

// embedMessage picks the user-facing message for an embedding failure caused by the image.
func embedMessage(err error) string {
	switch {
	case errors.Is(err, embedding.ErrMultipleFaces):
		return msgMultipleFaces
	case errors.Is(err, embedding.ErrNoFaceDetected):
		return msgNoFace
	default:
		return msgInvalidImage
	}
}

// DescribeImageError returns a user-facing reason for a rejected enrollment image.
func DescribeImageError(err error) string {
	switch {
	case embedding.IsBadInput(err):
		return embedMessage(err)
	case Retryable(err):
		return msgEmbedderDown
	default:
		return msgInternal
	}
}
