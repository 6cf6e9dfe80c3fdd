// Package lookalike orchestrates face search and profile enrollment on top of
// the embedding client and the profile store.
package lookalike

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kozaktomas/lookalike/internal/centroid"
	"github.com/kozaktomas/lookalike/internal/constants"
	"github.com/kozaktomas/lookalike/internal/database"
	"github.com/kozaktomas/lookalike/internal/embedding"
)

// Service holds no per-request state; one instance serves concurrent callers.
type Service struct {
	embedder  embedding.Embedder
	store     database.ProfileStore
	aggregate centroid.Strategy
	topK      int
	maxImages int
	workers   int
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTopK sets how many matches FindLookalikes returns.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = min(k, constants.MaxTopK)
		}
	}
}

// WithMaxImages caps the enrollment batch size.
func WithMaxImages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImages = n
		}
	}
}

// WithWorkers sets how many images of one enrollment are embedded in parallel.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithStrategy replaces the mean aggregation.
func WithStrategy(strategy centroid.Strategy) Option {
	return func(s *Service) {
		if strategy != nil {
			s.aggregate = strategy
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a new lookalike service.
func NewService(embedder embedding.Embedder, store database.ProfileStore, opts ...Option) *Service {
	s := &Service{
		embedder:  embedder,
		store:     store,
		aggregate: centroid.Mean,
		topK:      constants.DefaultTopK,
		maxImages: constants.DefaultEnrollMaxImages,
		workers:   constants.DefaultEnrollWorkers,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TopK returns the number of matches FindLookalikes asks for.
func (s *Service) TopK() int {
	return s.topK
}

// ProfileAttrs carries optional display attributes written together with a
// centroid. Empty fields leave the stored value untouched.
type ProfileAttrs struct {
	DisplayName string
	AvatarRef   string
}

// options validates the attributes and turns them into upsert options.
func (a ProfileAttrs) options(op string) ([]database.UpsertOption, error) {
	var opts []database.UpsertOption
	if a.DisplayName != "" {
		name, err := database.NormalizeDisplayName(a.DisplayName)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindBadInput, Message: "Display name must be between 1 and 200 characters.", Err: err}
		}
		opts = append(opts, database.WithDisplayName(name))
	}
	if a.AvatarRef != "" {
		opts = append(opts, database.WithAvatar(strings.TrimSpace(a.AvatarRef)))
	}
	return opts, nil
}

// FindLookalikes embeds the query face and returns the closest enrolled
// profiles. An empty slice means no matches and is not an error.
func (s *Service) FindLookalikes(ctx context.Context, image []byte) ([]database.MatchResult, error) {
	const op = "find lookalikes"

	vec, err := s.embedder.Embed(ctx, image)
	if err != nil {
		return nil, s.embedError(ctx, op, err)
	}

	results, err := s.store.RankedSearch(ctx, vec, s.topK)
	if err != nil {
		return nil, s.storeError(ctx, op, err)
	}
	if results == nil {
		results = []database.MatchResult{}
	}

	s.logger.Debug("lookalike search finished", zap.Int("matches", len(results)))
	return results, nil
}

// ImageFailure records why one enrollment image was discarded.
type ImageFailure struct {
	Index int
	Err   error
}

// EnrollReport summarizes a successful enrollment.
type EnrollReport struct {
	Used     int
	Rejected []ImageFailure
}

type embedResult struct {
	vec []float32
	err error
}

// Enroll embeds every image, discards the ones that fail and stores the
// aggregate of the rest as the person's centroid. Exactly one store write
// happens on success, none on failure.
func (s *Service) Enroll(ctx context.Context, personID string, images [][]byte, attrs ProfileAttrs) (*EnrollReport, error) {
	const op = "enroll"

	personID = strings.TrimSpace(personID)
	if personID == "" {
		return nil, &Error{Op: op, Kind: KindBadInput, Message: "A person ID is required."}
	}
	if len(images) == 0 {
		return nil, &Error{Op: op, Kind: KindBadInput, Message: "At least one image is required."}
	}
	if len(images) > s.maxImages {
		return nil, &Error{Op: op, Kind: KindBadInput, Message: "Too many images in one enrollment."}
	}
	opts, err := attrs.options(op)
	if err != nil {
		return nil, err
	}

	results := s.embedAll(ctx, images)
	if ctx.Err() != nil {
		return nil, &Error{Op: op, Kind: KindServiceUnavailable, Message: msgCanceled, Err: ctx.Err()}
	}

	report := &EnrollReport{}
	var vectors [][]float32
	var causes []error
	for i, r := range results {
		if r.err != nil {
			s.logger.Warn("enrollment image rejected",
				zap.String("person_id", personID),
				zap.Int("image", i),
				zap.Error(r.err))
			report.Rejected = append(report.Rejected, ImageFailure{Index: i, Err: r.err})
			causes = append(causes, r.err)
			continue
		}
		vectors = append(vectors, r.vec)
	}

	if len(vectors) == 0 {
		return nil, &Error{Op: op, Kind: KindNoUsableImages, Message: msgNoUsableImages, Err: errors.Join(causes...)}
	}
	for _, v := range vectors[1:] {
		if len(v) != len(vectors[0]) {
			s.logger.Error("embeddings of one batch differ in length", zap.String("person_id", personID))
			return nil, &Error{Op: op, Kind: KindInternal, Message: msgInternal, Err: embedding.ErrUnexpectedDimension}
		}
	}

	if err := s.store.UpsertCentroid(ctx, personID, s.aggregate(vectors), opts...); err != nil {
		return nil, s.storeError(ctx, op, err)
	}

	report.Used = len(vectors)
	s.logger.Info("profile enrolled",
		zap.String("person_id", personID),
		zap.Int("used", report.Used),
		zap.Int("rejected", len(report.Rejected)))
	return report, nil
}

// embedAll embeds images with at most s.workers calls in flight. Results keep input order.
func (s *Service) embedAll(ctx context.Context, images [][]byte) []embedResult {
	results := make([]embedResult, len(images))
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for i := range images {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = embedResult{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			vec, err := s.embedder.Embed(ctx, images[idx])
			results[idx] = embedResult{vec: vec, err: err}
		}(i)
	}

	wg.Wait()
	return results
}

// Reenroll replaces the centroid with the embedding of a single new photo and
// writes the display attributes in the same store call. If the photo cannot be
// embedded nothing is written.
func (s *Service) Reenroll(ctx context.Context, personID string, image []byte, attrs ProfileAttrs) error {
	const op = "reenroll"

	personID = strings.TrimSpace(personID)
	if personID == "" {
		return &Error{Op: op, Kind: KindBadInput, Message: "A person ID is required."}
	}
	opts, err := attrs.options(op)
	if err != nil {
		return err
	}

	vec, err := s.embedder.Embed(ctx, image)
	if err != nil {
		msg := msgReenrollFailed
		if embedding.IsBadInput(err) {
			msg = embedMessage(err) + " " + msgReenrollFailed
		}
		s.logger.Warn("reenrollment photo rejected", zap.String("person_id", personID), zap.Error(err))
		return &Error{Op: op, Kind: KindEmbeddingFailed, Message: msg, Err: err}
	}

	if err := s.store.UpsertCentroid(ctx, personID, vec, opts...); err != nil {
		return s.storeError(ctx, op, err)
	}

	s.logger.Info("profile reenrolled", zap.String("person_id", personID))
	return nil
}

// Register creates an unenrolled profile. Returns false when it already exists.
func (s *Service) Register(ctx context.Context, personID, displayName string) (bool, error) {
	const op = "register"

	personID = strings.TrimSpace(personID)
	if personID == "" {
		return false, &Error{Op: op, Kind: KindBadInput, Message: "A person ID is required."}
	}
	name, err := database.NormalizeDisplayName(displayName)
	if err != nil {
		return false, &Error{Op: op, Kind: KindBadInput, Message: "Display name must be between 1 and 200 characters.", Err: err}
	}

	created, err := s.store.RegisterProfile(ctx, personID, name)
	if err != nil {
		return false, s.storeError(ctx, op, err)
	}
	return created, nil
}

// Rename changes the display name without touching the centroid.
func (s *Service) Rename(ctx context.Context, personID, displayName string) error {
	const op = "rename"

	name, err := database.NormalizeDisplayName(displayName)
	if err != nil {
		return &Error{Op: op, Kind: KindBadInput, Message: "Display name must be between 1 and 200 characters.", Err: err}
	}
	if err := s.store.UpdateDisplayName(ctx, personID, name); err != nil {
		return s.storeError(ctx, op, err)
	}
	return nil
}

// Remove deletes the profile and its centroid.
func (s *Service) Remove(ctx context.Context, personID string) error {
	if err := s.store.DeleteProfile(ctx, personID); err != nil {
		return s.storeError(ctx, "remove", err)
	}
	s.logger.Info("profile removed", zap.String("person_id", personID))
	return nil
}

// Profile returns a stored profile.
func (s *Service) Profile(ctx context.Context, personID string) (*database.PersonProfile, error) {
	p, err := s.store.GetProfile(ctx, personID)
	if err != nil {
		return nil, s.storeError(ctx, "get profile", err)
	}
	return p, nil
}

// Stats returns total and enrolled profile counts.
func (s *Service) Stats(ctx context.Context) (database.ProfileCounts, error) {
	counts, err := s.store.Count(ctx)
	if err != nil {
		return counts, s.storeError(ctx, "stats", err)
	}
	return counts, nil
}

// embedError maps an embedding client failure for the search path.
func (s *Service) embedError(ctx context.Context, op string, err error) error {
	switch {
	case embedding.IsBadInput(err):
		return &Error{Op: op, Kind: KindBadInput, Message: embedMessage(err), Err: err}
	case ctx.Err() != nil:
		return &Error{Op: op, Kind: KindServiceUnavailable, Message: msgCanceled, Err: err}
	case embedding.Retryable(err):
		s.logger.Warn("embedding service unavailable", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Kind: KindServiceUnavailable, Message: msgEmbedderDown, Err: err}
	default:
		s.logger.Error("embedding failed", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Kind: KindInternal, Message: msgInternal, Err: err}
	}
}

// storeError maps a profile store failure. Dimension mismatches are logged at
// error level since they mean the stored data and the model disagree.
func (s *Service) storeError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return &Error{Op: op, Kind: KindNotFound, Message: msgProfileNotFound, Err: err}
	case errors.Is(err, database.ErrDimensionMismatch):
		s.logger.Error("vector dimension mismatch", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Kind: KindInternal, Message: msgInternal, Err: err}
	case errors.Is(err, database.ErrUnavailable):
		s.logger.Warn("profile store unavailable", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Kind: KindServiceUnavailable, Message: msgStoreDown, Err: err}
	case ctx.Err() != nil:
		return &Error{Op: op, Kind: KindServiceUnavailable, Message: msgCanceled, Err: err}
	default:
		s.logger.Error("profile store failed", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Kind: KindInternal, Message: msgInternal, Err: err}
	}
}
