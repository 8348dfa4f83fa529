package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"weatherbingo/internal/types"
)

// CacheRepository provides data access for the yr_responses table, which
// holds exactly one upstream payload per checkpoint.
type CacheRepository struct {
	db DBTX
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db DBTX) *CacheRepository {
	return &CacheRepository{db: db}
}

const cacheColumns = `checkpoint_id, latitude, longitude, elevation_m,
	fetched_at, expires_at, last_modified, raw_response`

func scanCache(row pgx.Row) (*types.CachedTimeseries, error) {
	var c types.CachedTimeseries
	err := row.Scan(
		&c.CheckpointID,
		&c.Latitude,
		&c.Longitude,
		&c.ElevationM,
		&c.FetchedAt,
		&c.ExpiresAt,
		&c.LastModified,
		&c.RawResponse,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetFreshCache returns the stored payload only while it has not expired,
// judged by the database clock. Returns nil, nil when there is no fresh row.
func (r *CacheRepository) GetFreshCache(ctx context.Context, checkpointID string) ([]byte, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT raw_response FROM yr_responses
		 WHERE checkpoint_id = $1 AND expires_at > NOW()`,
		checkpointID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read cached timeseries", err)
	}
	return raw, nil
}

// GetAnyCache returns the row regardless of expiry, or nil, nil.
func (r *CacheRepository) GetAnyCache(ctx context.Context, checkpointID string) (*types.CachedTimeseries, error) {
	c, err := scanCache(r.db.QueryRow(ctx,
		`SELECT `+cacheColumns+` FROM yr_responses WHERE checkpoint_id = $1`,
		checkpointID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read cached timeseries", err)
	}
	return c, nil
}

// UpsertCache inserts the row or replaces every column of the existing row
// for the same checkpoint.
func (r *CacheRepository) UpsertCache(ctx context.Context, c *types.CachedTimeseries) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO yr_responses (id, checkpoint_id, latitude, longitude, elevation_m,
		                           fetched_at, expires_at, last_modified, raw_response)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (checkpoint_id) DO UPDATE SET
		     latitude = EXCLUDED.latitude,
		     longitude = EXCLUDED.longitude,
		     elevation_m = EXCLUDED.elevation_m,
		     fetched_at = EXCLUDED.fetched_at,
		     expires_at = EXCLUDED.expires_at,
		     last_modified = EXCLUDED.last_modified,
		     raw_response = EXCLUDED.raw_response`,
		c.CheckpointID,
		c.Latitude,
		c.Longitude,
		c.ElevationM,
		c.FetchedAt,
		c.ExpiresAt,
		c.LastModified,
		c.RawResponse,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store cached timeseries", err)
	}
	return nil
}

// BumpCacheExpiry extends a revalidated row. A nil lastModified keeps the
// stored token.
func (r *CacheRepository) BumpCacheExpiry(ctx context.Context, checkpointID string, expiresAt time.Time, lastModified *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE yr_responses
		 SET expires_at = $2, last_modified = COALESCE($3, last_modified)
		 WHERE checkpoint_id = $1`,
		checkpointID,
		expiresAt,
		lastModified,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to extend cache expiry", err)
	}
	return nil
}

// GetEarliestExpiry returns the soonest expires_at across the given
// checkpoints, or nil when none of them has a row.
func (r *CacheRepository) GetEarliestExpiry(ctx context.Context, checkpointIDs []string) (*time.Time, error) {
	if len(checkpointIDs) == 0 {
		return nil, nil
	}
	var earliest *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MIN(expires_at) FROM yr_responses WHERE checkpoint_id = ANY($1::uuid[])`,
		checkpointIDs,
	).Scan(&earliest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query earliest cache expiry", err)
	}
	return earliest, nil
}
