// Package embedding talks to the face embedding server and turns a face photo
// into a fixed-length vector.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	faceEndpoint        = "/embed/face"

	// maxErrorBody bounds how much of an error response ends up in error messages.
	maxErrorBody = 512
)

// Embedder computes a face embedding for a single image.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL      string
	dim          int
	maxImageSize int
	client       *http.Client
	limiter      *rate.Limiter
}

var _ Embedder = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			burst := max(1, int(perSecond))
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMaxImageSize downscales images whose longest edge exceeds size before upload.
func WithMaxImageSize(size int) Option {
	return func(c *Client) {
		c.maxImageSize = size
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient creates a new embedding client. dim is the vector length the face
// model produces; responses of any other length are rejected. dim <= 0 disables the check.
func NewClient(baseURL string, dim int, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dim returns the configured embedding dimension.
func (c *Client) Dim() int {
	return c.dim
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Embed returns the embedding of the single face in image.
func (c *Client) Embed(ctx context.Context, image []byte) ([]float32, error) {
	data, err := PrepareImage(image, c.maxImageSize)
	if err != nil {
		return nil, err
	}

	faceResp, err := c.detectFaces(ctx, data)
	if err != nil {
		return nil, err
	}

	switch {
	case faceResp.FacesCount == 0 || len(faceResp.Faces) == 0:
		return nil, ErrNoFaceDetected
	case len(faceResp.Faces) > 1:
		return nil, fmt.Errorf("%w (%d found)", ErrMultipleFaces, len(faceResp.Faces))
	}

	emb := faceResp.Faces[0].Embedding
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnexpectedDimension)
	}
	if c.dim > 0 && len(emb) != c.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedDimension, len(emb), c.dim)
	}

	out := make([]float32, len(emb))
	copy(out, emb)
	return out, nil
}

// detectFaces posts the image to the face endpoint and decodes the detections.
func (c *Client) detectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrUnreachable, err)
		}
	}

	body, err := c.postMultipartImage(ctx, faceEndpoint, imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", ErrUnreachable, err)
	}
	return &faceResp, nil
}

// postMultipartImage sends the image as the multipart field "file" and returns
// the body of a 200 answer. Non-200 answers are classified into sentinel errors.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	return body, nil
}

// classifyStatus maps a non-200 answer onto the sentinel errors.
func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: API error (status %d): %s", ErrUnreachable, status, msg)
	case status >= 400:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "could not be detected") || strings.Contains(lower, "no face") {
			return fmt.Errorf("%w: API error (status %d): %s", ErrNoFaceDetected, status, msg)
		}
		return fmt.Errorf("%w: API error (status %d): %s", ErrInvalidImage, status, msg)
	default:
		return fmt.Errorf("%w: API error (status %d): %s", ErrUnreachable, status, msg)
	}
}
