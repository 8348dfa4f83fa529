package forecasts

import (
	"context"
	"log/slog"
	"time"

	"weatherbingo/internal/external"
	"weatherbingo/internal/types"
)

// DefaultCacheTTL is the expiry applied when upstream sends no usable
// Expires header.
const DefaultCacheTTL = time.Hour

// CacheStore is the persistence the cache needs: one row per checkpoint.
type CacheStore interface {
	// GetFreshCache returns the payload only if the row has not expired.
	GetFreshCache(ctx context.Context, checkpointID string) ([]byte, error)
	// GetAnyCache returns the row regardless of expiry, or nil.
	GetAnyCache(ctx context.Context, checkpointID string) (*types.CachedTimeseries, error)
	UpsertCache(ctx context.Context, row *types.CachedTimeseries) error
	// BumpCacheExpiry moves expires_at and replaces the revalidation token
	// only when lastModified is non-nil.
	BumpCacheExpiry(ctx context.Context, checkpointID string, expiresAt time.Time, lastModified *string) error
}

// TimeseriesFetcher performs the conditional upstream request.
type TimeseriesFetcher interface {
	FetchTimeseries(ctx context.Context, lat, lon, elevation float64, ifModifiedSince *string) (*external.YrResponse, error)
}

// TimeseriesCache is a read-through cache of upstream timeseries payloads,
// keyed by checkpoint. It holds no locks: concurrent refreshes of the same
// checkpoint may both fetch, and the last upsert wins.
type TimeseriesCache struct {
	store    CacheStore
	upstream TimeseriesFetcher
	clock    types.Clock
	logger   *slog.Logger
}

// NewTimeseriesCache creates a TimeseriesCache. A nil clock uses the real
// clock and a nil logger uses slog.Default.
func NewTimeseriesCache(store CacheStore, upstream TimeseriesFetcher, clock types.Clock, logger *slog.Logger) *TimeseriesCache {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeseriesCache{store: store, upstream: upstream, clock: clock, logger: logger}
}

// EnsureFresh returns a current payload for the checkpoint, fetching or
// revalidating it upstream when the stored row has expired. It performs at
// most one storage write. Upstream failures leave the store untouched and are
// reported as upstream_unavailable.
func (c *TimeseriesCache) EnsureFresh(ctx context.Context, cp types.Checkpoint) ([]byte, error) {
	fresh, err := c.store.GetFreshCache(ctx, cp.ID)
	if err != nil {
		return nil, err
	}
	if fresh != nil {
		return fresh, nil
	}

	existing, err := c.store.GetAnyCache(ctx, cp.ID)
	if err != nil {
		return nil, err
	}
	var token *string
	if existing != nil {
		token = existing.LastModified
	}

	resp, err := c.upstream.FetchTimeseries(ctx, cp.Latitude, cp.Longitude, cp.ElevationM, token)
	if err != nil {
		c.logger.WarnContext(ctx, "upstream timeseries fetch failed",
			"checkpoint_id", cp.ID,
			"error", err,
		)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamUnavailable,
			"forecast provider unavailable",
			err,
			map[string]any{"checkpoint_id": cp.ID},
		)
	}

	// A payload already paid for is stored even if the caller has gone away.
	writeCtx := context.WithoutCancel(ctx)
	now := c.clock.Now()
	expiresAt := now.Add(DefaultCacheTTL)
	if resp.ExpiresAt != nil {
		expiresAt = *resp.ExpiresAt
	}

	switch resp.Status {
	case external.FetchNotModified:
		if existing == nil {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeInternalCacheInconsistent,
				"upstream reported not modified but no cached payload exists",
				nil,
				map[string]any{"checkpoint_id": cp.ID},
			)
		}
		if err := c.store.BumpCacheExpiry(writeCtx, cp.ID, expiresAt, resp.LastModified); err != nil {
			return nil, err
		}
		c.logger.DebugContext(ctx, "timeseries revalidated",
			"checkpoint_id", cp.ID,
			"expires_at", expiresAt,
		)
		return existing.RawResponse, nil

	default:
		row := &types.CachedTimeseries{
			CheckpointID: cp.ID,
			Latitude:     cp.Latitude,
			Longitude:    cp.Longitude,
			ElevationM:   cp.ElevationM,
			FetchedAt:    now,
			ExpiresAt:    expiresAt,
			LastModified: resp.LastModified,
			RawResponse:  resp.Body,
		}
		if err := c.store.UpsertCache(writeCtx, row); err != nil {
			return nil, err
		}
		c.logger.InfoContext(ctx, "timeseries refreshed",
			"checkpoint_id", cp.ID,
			"bytes", len(resp.Body),
			"expires_at", expiresAt,
		)
		return resp.Body, nil
	}
}
