package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/lookalike/internal/database"
)

// ProfileRepository provides PostgreSQL-backed profile storage with optional in-memory HNSW index
type ProfileRepository struct {
	pool          *Pool
	dim           int
	hnswIndex     *database.HNSWCentroidIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
	rebuilding    atomic.Bool // A background rebuild is running
}

var (
	_ database.ProfileStore   = (*ProfileRepository)(nil)
	_ database.EnrolledLister = (*ProfileRepository)(nil)
	_ database.HNSWRebuilder  = (*ProfileRepository)(nil)
)

// NewProfileRepository creates a new PostgreSQL profile repository
func NewProfileRepository(pool *Pool, dim int) *ProfileRepository {
	return &ProfileRepository{pool: pool, dim: dim}
}

const profileColumns = `id, seq, display_name, avatar_ref, embedding::text, version, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*database.PersonProfile, error) {
	var p database.PersonProfile
	var embedding sql.NullString

	if err := row.Scan(&p.ID, &p.Seq, &p.DisplayName, &p.AvatarRef, &embedding, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	if embedding.Valid {
		var vec pgvector.Vector
		if err := vec.Scan(embedding.String); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		p.Centroid = vec.Slice()
	}
	return &p, nil
}

// nullable maps an optional string onto a SQL parameter, nil meaning "keep".
func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// UpsertCentroid replaces the centroid of a person, creating the profile when missing.
// A single statement keeps the write atomic; concurrent writers serialize on the row.
func (r *ProfileRepository) UpsertCentroid(ctx context.Context, id string, centroid []float32, opts ...database.UpsertOption) error {
	if err := database.CheckDimension(centroid, r.dim); err != nil {
		return err
	}
	o := database.ApplyUpsertOptions(opts...)

	query := `
		INSERT INTO profiles (id, display_name, avatar_ref, embedding, version)
		VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), $4, nextval('profile_versions'))
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			display_name = COALESCE($2, profiles.display_name),
			avatar_ref = COALESCE($3, profiles.avatar_ref),
			version = EXCLUDED.version,
			updated_at = NOW()
		RETURNING seq, display_name, avatar_ref, version, created_at, updated_at
	`

	p := database.PersonProfile{ID: id, Centroid: database.CopyVector(centroid)}
	err := r.pool.QueryRow(ctx, query, id, nullable(o.DisplayName), nullable(o.AvatarRef), pgvector.NewVector(p.Centroid)).
		Scan(&p.Seq, &p.DisplayName, &p.AvatarRef, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return classify("upsert centroid", err)
	}

	r.mirror(func(idx *database.HNSWCentroidIndex) { idx.Apply(&p) })
	return nil
}

// RankedSearch returns the top k enrolled profiles by cosine similarity.
// Uses in-memory HNSW index if enabled and in sync with the table, otherwise
// an exact PostgreSQL scan. The index only sees writes made through this
// repository; writes from other processes are detected by comparing the
// enrolled count and highest version, which triggers a background rebuild.
func (r *ProfileRepository) RankedSearch(ctx context.Context, query []float32, k int) ([]database.MatchResult, error) {
	if k <= 0 {
		return []database.MatchResult{}, nil
	}
	if err := database.CheckDimension(query, r.dim); err != nil {
		return nil, err
	}

	r.hnswMu.RLock()
	idx := r.hnswIndex
	hnswEnabled := r.hnswEnabled && idx != nil && !idx.IsEmpty()
	r.hnswMu.RUnlock()

	if hnswEnabled {
		results, ok, err := r.rankedSearchHNSW(ctx, idx, query, k)
		if err != nil {
			return nil, err
		}
		if ok {
			return results, nil
		}
	}

	return r.rankedSearchPostgres(ctx, query, k)
}

// rankedSearchHNSW searches the index and reports false when the index no
// longer matches PostgreSQL, in which case a rebuild is started.
func (r *ProfileRepository) rankedSearchHNSW(
	ctx context.Context, idx *database.HNSWCentroidIndex, query []float32, k int,
) ([]database.MatchResult, bool, error) {
	count, maxVersion, err := r.indexStats(ctx)
	if err != nil {
		return nil, false, err
	}
	if idxCount, idxVersion := idx.Stats(); idxCount != count || idxVersion != maxVersion {
		r.rebuildHNSWInBackground(fmt.Sprintf("index has %d profiles at version %d, database has %d at version %d",
			idxCount, idxVersion, count, maxVersion))
		return nil, false, nil
	}

	results, err := idx.Search(query, k)
	if err != nil {
		return nil, false, fmt.Errorf("HNSW search: %w", err)
	}

	fresh, err := r.refreshRefs(ctx, results)
	if err != nil {
		return nil, false, err
	}
	if !fresh {
		r.rebuildHNSWInBackground("a matched profile is no longer enrolled")
		return nil, false, nil
	}
	return results, true, nil
}

// refreshRefs reloads the display attributes of index hits, so renames made
// by other processes show up. Returns false when a hit is no longer enrolled.
func (r *ProfileRepository) refreshRefs(ctx context.Context, results []database.MatchResult) (bool, error) {
	if len(results) == 0 {
		return true, nil
	}

	ids := make([]string, len(results))
	for i, m := range results {
		ids[i] = m.Person.ID
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, display_name, avatar_ref FROM profiles WHERE id = ANY($1) AND embedding IS NOT NULL`,
		pq.Array(ids))
	if err != nil {
		return false, classify("refresh matches", err)
	}
	defer rows.Close()

	refs := make(map[string]database.PersonRef, len(ids))
	for rows.Next() {
		var ref database.PersonRef
		if err := rows.Scan(&ref.ID, &ref.DisplayName, &ref.AvatarRef); err != nil {
			return false, classify("scan match", err)
		}
		refs[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return false, classify("iterate matches", err)
	}

	for i := range results {
		ref, ok := refs[results[i].Person.ID]
		if !ok {
			return false, nil
		}
		results[i].Person = ref
	}
	return true, nil
}

// rankedSearchPostgres ranks every enrolled row. Ordering by seq after the
// distance keeps ties in insertion order.
func (r *ProfileRepository) rankedSearchPostgres(ctx context.Context, query []float32, k int) ([]database.MatchResult, error) {
	sqlQuery := `
		SELECT id, display_name, avatar_ref, 1 - (embedding <=> $1::vector) AS similarity
		FROM profiles
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector, seq
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, sqlQuery, pgvector.NewVector(query), k)
	if err != nil {
		return nil, classify("ranked search", err)
	}
	defer rows.Close()

	results := make([]database.MatchResult, 0, k)
	for rows.Next() {
		var m database.MatchResult
		var similarity sql.NullFloat64
		if err := rows.Scan(&m.Person.ID, &m.Person.DisplayName, &m.Person.AvatarRef, &similarity); err != nil {
			return nil, classify("scan match", err)
		}
		// pgvector yields NaN for zero vectors; report them as maximally distant.
		m.Similarity = similarity.Float64
		if !similarity.Valid || math.IsNaN(m.Similarity) {
			m.Similarity = -1
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate matches", err)
	}
	return results, nil
}

// GetProfile retrieves a profile by ID
func (r *ProfileRepository) GetProfile(ctx context.Context, id string) (*database.PersonProfile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, classify("query profile", err)
	}
	return p, nil
}

// Count returns the total and enrolled number of profiles
func (r *ProfileRepository) Count(ctx context.Context) (database.ProfileCounts, error) {
	var counts database.ProfileCounts
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COUNT(embedding) FROM profiles").Scan(&counts.Total, &counts.Enrolled)
	if err != nil {
		return counts, classify("count profiles", err)
	}
	return counts, nil
}

// RegisterProfile inserts an unenrolled profile; existing profiles are left untouched
func (r *ProfileRepository) RegisterProfile(ctx context.Context, id, displayName string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, displayName)
	if err != nil {
		return false, classify("register profile", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateDisplayName renames a profile without touching its centroid
func (r *ProfileRepository) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	var ref database.PersonRef
	err := r.pool.QueryRow(ctx, `
		UPDATE profiles SET display_name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, display_name, avatar_ref
	`, id, displayName).Scan(&ref.ID, &ref.DisplayName, &ref.AvatarRef)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	if err != nil {
		return classify("update display name", err)
	}

	r.mirror(func(idx *database.HNSWCentroidIndex) { idx.UpdateRef(ref) })
	return nil
}

// DeleteProfile removes a profile and its vector
func (r *ProfileRepository) DeleteProfile(ctx context.Context, id string) error {
	var version int64
	err := r.pool.QueryRow(ctx, "DELETE FROM profiles WHERE id = $1 RETURNING version", id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	if err != nil {
		return classify("delete profile", err)
	}

	r.mirror(func(idx *database.HNSWCentroidIndex) { idx.Remove(id, version) })
	return nil
}

// ListEnrolled returns every enrolled profile in insertion order
func (r *ProfileRepository) ListEnrolled(ctx context.Context) ([]database.PersonProfile, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE embedding IS NOT NULL ORDER BY seq`)
	if err != nil {
		return nil, classify("list enrolled", err)
	}
	defer rows.Close()

	var profiles []database.PersonProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, classify("scan profile", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate profiles", err)
	}
	return profiles, nil
}

// indexStats returns the enrolled count and highest version, used to detect a stale index.
func (r *ProfileRepository) indexStats(ctx context.Context) (int64, int64, error) {
	var count, maxVersion int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(MAX(version), 0) FROM profiles WHERE embedding IS NOT NULL",
	).Scan(&count, &maxVersion)
	if err != nil {
		return 0, 0, classify("index stats", err)
	}
	return count, maxVersion, nil
}

// mirror applies fn to the HNSW index when enabled. Called after the database
// write committed; the index ignores writes older than what it holds.
func (r *ProfileRepository) mirror(fn func(idx *database.HNSWCentroidIndex)) {
	r.hnswMu.RLock()
	idx := r.hnswIndex
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()

	if enabled && idx != nil {
		fn(idx)
	}
}
