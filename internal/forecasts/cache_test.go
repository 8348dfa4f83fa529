package forecasts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbingo/internal/external"
	"weatherbingo/internal/types"
)

var testCheckpoint = types.Checkpoint{
	ID:         "7d3c9a30-5e0b-4c8e-9d7e-3a1f0b6c2e11",
	RaceID:     "race-1",
	Name:       "Mångsbodarna",
	DistanceKm: 24,
	Latitude:   61.0,
	Longitude:  14.1,
	ElevationM: 520,
}

func strPtr(s string) *string { return &s }

func TestEnsureFresh_HitMakesNoUpstreamCall(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	store.rows[testCheckpoint.ID] = types.CachedTimeseries{
		CheckpointID: testCheckpoint.ID,
		ExpiresAt:    baseTime.Add(time.Minute),
		RawResponse:  []byte(`{"cached":true}`),
	}
	upstream := &fakeUpstream{}

	got, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cached":true}`, string(got))
	assert.Zero(t, upstream.calls)
	assert.Zero(t, store.writes)
}

func TestEnsureFresh_MissFetchesAndStores(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	expires := baseTime.Add(40 * time.Minute)
	upstream := &fakeUpstream{resp: &external.YrResponse{
		Status:       external.FetchFresh,
		Body:         []byte(`{"new":1}`),
		ExpiresAt:    &expires,
		LastModified: strPtr("Sun, 01 Mar 2026 06:55:00 GMT"),
	}}

	got, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	require.NoError(t, err)
	assert.JSONEq(t, `{"new":1}`, string(got))
	require.Len(t, upstream.tokens, 1)
	assert.Nil(t, upstream.tokens[0], "no token without a prior row")

	row := store.rows[testCheckpoint.ID]
	assert.Equal(t, baseTime, row.FetchedAt)
	assert.Equal(t, expires, row.ExpiresAt)
	assert.Equal(t, "Sun, 01 Mar 2026 06:55:00 GMT", *row.LastModified)
	assert.Equal(t, testCheckpoint.Latitude, row.Latitude)
	assert.Equal(t, testCheckpoint.ElevationM, row.ElevationM)
	assert.Equal(t, 1, store.writes)
}

func TestEnsureFresh_MissingExpiresUsesDefaultTTL(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	upstream := &fakeUpstream{resp: &external.YrResponse{Status: external.FetchFresh, Body: []byte(`{}`)}}

	_, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	require.NoError(t, err)
	row := store.rows[testCheckpoint.ID]
	assert.Equal(t, baseTime.Add(DefaultCacheTTL), row.ExpiresAt)
	assert.Nil(t, row.LastModified)
}

func TestEnsureFresh_NotModifiedKeepsPayloadAndBumpsExpiry(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	fetchedAt := baseTime.Add(-2 * time.Hour)
	store.rows[testCheckpoint.ID] = types.CachedTimeseries{
		CheckpointID: testCheckpoint.ID,
		FetchedAt:    fetchedAt,
		ExpiresAt:    baseTime.Add(-time.Minute),
		LastModified: strPtr("token-1"),
		RawResponse:  []byte(`{"old":true}`),
	}
	upstream := &fakeUpstream{resp: &external.YrResponse{Status: external.FetchNotModified}}

	got, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	require.NoError(t, err)
	assert.JSONEq(t, `{"old":true}`, string(got))
	require.Len(t, upstream.tokens, 1)
	assert.Equal(t, "token-1", *upstream.tokens[0])

	row := store.rows[testCheckpoint.ID]
	assert.Equal(t, baseTime.Add(DefaultCacheTTL), row.ExpiresAt)
	assert.Equal(t, fetchedAt, row.FetchedAt, "revalidation does not touch fetched_at")
	assert.Equal(t, "token-1", *row.LastModified, "absent token leaves the stored one")
	assert.JSONEq(t, `{"old":true}`, string(row.RawResponse))
	assert.Equal(t, 1, store.writes)

	// Now fresh again: the next call is served from storage.
	_, err = NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls)
}

func TestEnsureFresh_NotModifiedReplacesToken(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	store.rows[testCheckpoint.ID] = types.CachedTimeseries{
		CheckpointID: testCheckpoint.ID,
		ExpiresAt:    baseTime.Add(-time.Minute),
		LastModified: strPtr("token-1"),
		RawResponse:  []byte(`{}`),
	}
	expires := baseTime.Add(25 * time.Minute)
	upstream := &fakeUpstream{resp: &external.YrResponse{
		Status:       external.FetchNotModified,
		ExpiresAt:    &expires,
		LastModified: strPtr("token-2"),
	}}

	_, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	require.NoError(t, err)
	row := store.rows[testCheckpoint.ID]
	assert.Equal(t, expires, row.ExpiresAt)
	assert.Equal(t, "token-2", *row.LastModified)
}

func TestEnsureFresh_NotModifiedWithoutRowIsInconsistent(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	upstream := &fakeUpstream{resp: &external.YrResponse{Status: external.FetchNotModified}}

	_, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalCacheInconsistent, appErr.Code)
	assert.Zero(t, store.writes)
}

func TestEnsureFresh_UpstreamFailureLeavesStoreUntouched(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	store.rows[testCheckpoint.ID] = types.CachedTimeseries{
		CheckpointID: testCheckpoint.ID,
		ExpiresAt:    baseTime.Add(-time.Minute),
		RawResponse:  []byte(`{}`),
	}
	upstream := &fakeUpstream{err: errProviderDown}

	_, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.ErrorIs(t, err, errProviderDown)
	assert.Equal(t, testCheckpoint.ID, appErr.Details["checkpoint_id"])
	assert.Zero(t, store.writes)
	assert.Equal(t, baseTime.Add(-time.Minute), store.rows[testCheckpoint.ID].ExpiresAt)
}

func TestEnsureFresh_StorageErrorPropagates(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	store.err = types.NewAppError(types.ErrCodeInternalDB, "database error", nil)
	upstream := &fakeUpstream{}

	_, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(context.Background(), testCheckpoint)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.Zero(t, upstream.calls)
}

func TestEnsureFresh_StoresPayloadWhenCallerGoesAway(t *testing.T) {
	clock := &fixedClock{now: baseTime}
	store := newMemCache(clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	upstream := &fakeUpstream{
		resp:    &external.YrResponse{Status: external.FetchFresh, Body: []byte(`{"new":1}`)},
		onFetch: cancel,
	}

	got, err := NewTimeseriesCache(store, upstream, clock, nil).EnsureFresh(ctx, testCheckpoint)
	require.NoError(t, err)
	assert.JSONEq(t, `{"new":1}`, string(got))
	assert.Equal(t, 1, store.writes)
	assert.JSONEq(t, `{"new":1}`, string(store.rows[testCheckpoint.ID].RawResponse))
}
