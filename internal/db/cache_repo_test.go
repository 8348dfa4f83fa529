package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"weatherbingo/internal/types"
)

const cpID = "7d3c9a30-5e0b-4c8e-9d7e-3a1f0b6c2e11"

func requireDBError(t *testing.T, err error) {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestCacheRepository_GetFreshCache(t *testing.T) {
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
			return assert.Contains(t, sql, "expires_at > NOW()")
		}), []any{cpID}).Return(&mockRow{values: []any{[]byte(`{"a":1}`)}})

		raw, err := NewCacheRepository(db).GetFreshCache(ctx, cpID)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"a":1}`), raw)
		db.AssertExpectations(t)
	})

	t.Run("expired or missing", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

		raw, err := NewCacheRepository(db).GetFreshCache(ctx, cpID)
		require.NoError(t, err)
		assert.Nil(t, raw)
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{scanErr: errors.New("conn reset")})

		_, err := NewCacheRepository(db).GetFreshCache(ctx, cpID)
		requireDBError(t, err)
	})
}

func TestCacheRepository_GetAnyCache(t *testing.T) {
	ctx := context.Background()
	fetched := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	db := new(mockDBTX)
	db.On("QueryRow", ctx, mock.Anything, []any{cpID}).Return(&mockRow{values: []any{
		cpID, 61.0, 14.1, 520.0, fetched, fetched.Add(time.Hour), "Sun, 01 Mar 2026 05:58:00 GMT", []byte(`{}`),
	}})

	row, err := NewCacheRepository(db).GetAnyCache(ctx, cpID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, cpID, row.CheckpointID)
	assert.Equal(t, 520.0, row.ElevationM)
	assert.Equal(t, fetched, row.FetchedAt)
	assert.Equal(t, fetched.Add(time.Hour), row.ExpiresAt)
	require.NotNil(t, row.LastModified)
	assert.Equal(t, "Sun, 01 Mar 2026 05:58:00 GMT", *row.LastModified)

	missing := new(mockDBTX)
	missing.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})
	row, err = NewCacheRepository(missing).GetAnyCache(ctx, cpID)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCacheRepository_UpsertCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	token := "Sun, 01 Mar 2026 06:55:00 GMT"
	row := &types.CachedTimeseries{
		CheckpointID: cpID,
		Latitude:     61,
		Longitude:    14.1,
		ElevationM:   520,
		FetchedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		LastModified: &token,
		RawResponse:  []byte(`{}`),
	}

	db := new(mockDBTX)
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "ON CONFLICT (checkpoint_id) DO UPDATE")
	}), []any{cpID, 61.0, 14.1, 520.0, now, now.Add(time.Hour), &token, []byte(`{}`)}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, NewCacheRepository(db).UpsertCache(ctx, row))
	db.AssertExpectations(t)

	failing := new(mockDBTX)
	failing.On("Exec", ctx, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("boom"))
	requireDBError(t, NewCacheRepository(failing).UpsertCache(ctx, row))
}

func TestCacheRepository_BumpCacheExpiry(t *testing.T) {
	ctx := context.Background()
	expires := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	db := new(mockDBTX)
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "COALESCE($3, last_modified)")
	}), []any{cpID, expires, (*string)(nil)}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, NewCacheRepository(db).BumpCacheExpiry(ctx, cpID, expires, nil))
	db.AssertExpectations(t)
}

func TestCacheRepository_GetEarliestExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("no ids skips the query", func(t *testing.T) {
		db := new(mockDBTX)
		got, err := NewCacheRepository(db).GetEarliestExpiry(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, got)
		db.AssertNotCalled(t, "QueryRow", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("min expiry", func(t *testing.T) {
		expires := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
		ids := []string{cpID, "a6f7c1de-2c55-4b61-a0c9-7a7c6f4c1e02"}
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.Anything, []any{ids}).Return(&mockRow{values: []any{expires}})

		got, err := NewCacheRepository(db).GetEarliestExpiry(ctx, ids)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, expires, *got)
	})

	t.Run("no rows yields NULL", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{values: []any{nil}})

		got, err := NewCacheRepository(db).GetEarliestExpiry(ctx, []string{cpID})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
