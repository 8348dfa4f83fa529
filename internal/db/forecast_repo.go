package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"weatherbingo/internal/types"
)

// ForecastLookupWindow bounds how far a stored forecast_time may be from the
// requested time and still answer for it.
const ForecastLookupWindow = 3 * time.Hour

// MaxForecastHistory caps the rows returned by GetForecastHistory.
const MaxForecastHistory = 200

// forecastColumns must match scanForecast and forecastDest.
const forecastColumns = `id, checkpoint_id, forecast_time, fetched_at, source,
	temperature_c, temperature_percentile_10_c, temperature_percentile_90_c,
	wind_speed_ms, wind_speed_percentile_10_ms, wind_speed_percentile_90_ms,
	wind_direction_deg, wind_gust_ms,
	precipitation_mm, precipitation_min_mm, precipitation_max_mm,
	humidity_pct, dew_point_c, cloud_cover_pct, uv_index, symbol_code,
	feels_like_c, precipitation_type, snow_temperature_c, yr_model_run_at, created_at`

const forecastInsertColumns = `id, checkpoint_id, forecast_time, fetched_at, source,
	temperature_c, temperature_percentile_10_c, temperature_percentile_90_c,
	wind_speed_ms, wind_speed_percentile_10_ms, wind_speed_percentile_90_ms,
	wind_direction_deg, wind_gust_ms,
	precipitation_mm, precipitation_min_mm, precipitation_max_mm,
	humidity_pct, dew_point_c, cloud_cover_pct, uv_index, symbol_code,
	feels_like_c, precipitation_type, snow_temperature_c, yr_model_run_at`

// Each insert path names the partial unique index matching whether the model
// run is known.
var (
	insertForecastWithRunSQL = `INSERT INTO forecasts (` + forecastInsertColumns + `)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (checkpoint_id, forecast_time, yr_model_run_at)
		    WHERE yr_model_run_at IS NOT NULL
		DO NOTHING
		RETURNING ` + forecastColumns

	insertForecastWithoutRunSQL = `INSERT INTO forecasts (` + forecastInsertColumns + `)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (checkpoint_id, forecast_time)
		    WHERE yr_model_run_at IS NULL
		DO NOTHING
		RETURNING ` + forecastColumns
)

var windowSQL = fmt.Sprintf("INTERVAL '%d hours'", int(ForecastLookupWindow/time.Hour))

// ForecastRepository provides data access for the append-only forecasts table.
type ForecastRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewForecastRepository creates a new ForecastRepository.
func NewForecastRepository(db DBTX, logger *slog.Logger) *ForecastRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForecastRepository{db: db, logger: logger}
}

// forecastDest returns scan destinations for forecastColumns.
func forecastDest(f *types.ForecastRecord) []any {
	return []any{
		&f.ID, &f.CheckpointID, &f.ForecastTime, &f.FetchedAt, &f.Source,
		&f.TemperatureC, &f.TemperatureP10C, &f.TemperatureP90C,
		&f.WindSpeedMs, &f.WindSpeedP10Ms, &f.WindSpeedP90Ms,
		&f.WindDirectionDeg, &f.WindGustMs,
		&f.PrecipitationMm, &f.PrecipitationMinMm, &f.PrecipitationMaxMm,
		&f.HumidityPct, &f.DewPointC, &f.CloudCoverPct, &f.UVIndex, &f.SymbolCode,
		&f.FeelsLikeC, &f.PrecipitationType, &f.SnowTemperatureC, &f.ModelRunAt, &f.CreatedAt,
	}
}

func scanForecast(row pgx.Row) (*types.ForecastRecord, error) {
	var f types.ForecastRecord
	if err := row.Scan(forecastDest(&f)...); err != nil {
		return nil, err
	}
	return &f, nil
}

// InsertForecastIfAbsent stores the record unless an equivalent row already
// exists. It returns nil, nil for the duplicate case.
func (r *ForecastRepository) InsertForecastIfAbsent(ctx context.Context, f *types.ForecastRecord) (*types.ForecastRecord, error) {
	sql := insertForecastWithoutRunSQL
	if f.ModelRunAt != nil {
		sql = insertForecastWithRunSQL
	}
	source := f.Source
	if source == "" {
		source = types.ForecastSource
	}

	inserted, err := scanForecast(r.db.QueryRow(ctx, sql,
		f.CheckpointID, f.ForecastTime, f.FetchedAt, source,
		f.TemperatureC, f.TemperatureP10C, f.TemperatureP90C,
		f.WindSpeedMs, f.WindSpeedP10Ms, f.WindSpeedP90Ms,
		f.WindDirectionDeg, f.WindGustMs,
		f.PrecipitationMm, f.PrecipitationMinMm, f.PrecipitationMaxMm,
		f.HumidityPct, f.DewPointC, f.CloudCoverPct, f.UVIndex, f.SymbolCode,
		f.FeelsLikeC, f.PrecipitationType, f.SnowTemperatureC, f.ModelRunAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to insert forecast", err)
	}
	return inserted, nil
}

// GetLatestForecast returns the stored forecast closest to t within the
// lookup window, preferring the newest model run and then the newest fetch.
func (r *ForecastRepository) GetLatestForecast(ctx context.Context, checkpointID string, t time.Time) (*types.ForecastRecord, error) {
	f, err := scanForecast(r.db.QueryRow(ctx,
		`SELECT `+forecastColumns+`
		 FROM forecasts
		 WHERE checkpoint_id = $1
		   AND forecast_time BETWEEN $2::timestamptz - `+windowSQL+` AND $2::timestamptz + `+windowSQL+`
		 ORDER BY ABS(EXTRACT(EPOCH FROM (forecast_time - $2::timestamptz))),
		          yr_model_run_at DESC NULLS LAST,
		          fetched_at DESC
		 LIMIT 1`,
		checkpointID, t,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read forecast", err)
	}
	return f, nil
}

// nullableForecast receives a LEFT JOIN row where every forecast column may
// be NULL.
type nullableForecast struct {
	ID                 *string
	CheckpointID       *string
	ForecastTime       *time.Time
	FetchedAt          *time.Time
	Source             *string
	TemperatureC       *float64
	TemperatureP10C    *float64
	TemperatureP90C    *float64
	WindSpeedMs        *float64
	WindSpeedP10Ms     *float64
	WindSpeedP90Ms     *float64
	WindDirectionDeg   *float64
	WindGustMs         *float64
	PrecipitationMm    *float64
	PrecipitationMinMm *float64
	PrecipitationMaxMm *float64
	HumidityPct        *float64
	DewPointC          *float64
	CloudCoverPct      *float64
	UVIndex            *float64
	SymbolCode         *string
	FeelsLikeC         *float64
	PrecipitationType  *string
	SnowTemperatureC   *float64
	ModelRunAt         *time.Time
	CreatedAt          *time.Time
}

func (n *nullableForecast) dest() []any {
	return []any{
		&n.ID, &n.CheckpointID, &n.ForecastTime, &n.FetchedAt, &n.Source,
		&n.TemperatureC, &n.TemperatureP10C, &n.TemperatureP90C,
		&n.WindSpeedMs, &n.WindSpeedP10Ms, &n.WindSpeedP90Ms,
		&n.WindDirectionDeg, &n.WindGustMs,
		&n.PrecipitationMm, &n.PrecipitationMinMm, &n.PrecipitationMaxMm,
		&n.HumidityPct, &n.DewPointC, &n.CloudCoverPct, &n.UVIndex, &n.SymbolCode,
		&n.FeelsLikeC, &n.PrecipitationType, &n.SnowTemperatureC, &n.ModelRunAt, &n.CreatedAt,
	}
}

// record converts a matched row; it returns nil when the join found nothing.
func (n *nullableForecast) record() *types.ForecastRecord {
	if n.ID == nil {
		return nil
	}
	f := &types.ForecastRecord{
		ID:         *n.ID,
		ModelRunAt: n.ModelRunAt,
	}
	f.CheckpointID = deref(n.CheckpointID)
	f.ForecastTime = deref(n.ForecastTime)
	f.FetchedAt = deref(n.FetchedAt)
	f.Source = deref(n.Source)
	f.CreatedAt = deref(n.CreatedAt)
	f.TemperatureC = deref(n.TemperatureC)
	f.TemperatureP10C = n.TemperatureP10C
	f.TemperatureP90C = n.TemperatureP90C
	f.WindSpeedMs = deref(n.WindSpeedMs)
	f.WindSpeedP10Ms = n.WindSpeedP10Ms
	f.WindSpeedP90Ms = n.WindSpeedP90Ms
	f.WindDirectionDeg = deref(n.WindDirectionDeg)
	f.WindGustMs = n.WindGustMs
	f.PrecipitationMm = deref(n.PrecipitationMm)
	f.PrecipitationMinMm = n.PrecipitationMinMm
	f.PrecipitationMaxMm = n.PrecipitationMaxMm
	f.HumidityPct = deref(n.HumidityPct)
	f.DewPointC = deref(n.DewPointC)
	f.CloudCoverPct = deref(n.CloudCoverPct)
	f.UVIndex = n.UVIndex
	f.SymbolCode = deref(n.SymbolCode)
	f.FeelsLikeC = deref(n.FeelsLikeC)
	f.PrecipitationType = deref(n.PrecipitationType)
	f.SnowTemperatureC = deref(n.SnowTemperatureC)
	return f
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// GetLatestForecastsBatch answers GetLatestForecast for many lookups in one
// round trip. The result has one slot per lookup, in lookup order; a nil slot
// means nothing is stored within the window.
func (r *ForecastRepository) GetLatestForecastsBatch(ctx context.Context, lookups []types.ForecastLookup) ([]*types.ForecastRecord, error) {
	results := make([]*types.ForecastRecord, len(lookups))
	if len(lookups) == 0 {
		return results, nil
	}

	ids := make([]string, len(lookups))
	times := make([]time.Time, len(lookups))
	for i, l := range lookups {
		ids[i] = l.CheckpointID
		times[i] = l.Time
	}

	rows, err := r.db.Query(ctx,
		`SELECT p.idx, f.*
		 FROM UNNEST($1::uuid[], $2::timestamptz[]) WITH ORDINALITY AS p(cp_id, ft, idx)
		 LEFT JOIN LATERAL (
		     SELECT `+forecastColumns+`
		     FROM forecasts
		     WHERE checkpoint_id = p.cp_id
		       AND forecast_time BETWEEN p.ft - `+windowSQL+` AND p.ft + `+windowSQL+`
		     ORDER BY ABS(EXTRACT(EPOCH FROM (forecast_time - p.ft))),
		              yr_model_run_at DESC NULLS LAST,
		              fetched_at DESC
		     LIMIT 1
		 ) f ON true`,
		ids, times,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query forecasts batch", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int64
		var n nullableForecast
		if err := rows.Scan(append([]any{&idx}, n.dest()...)...); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan forecast batch row", err)
		}
		pos := int(idx) - 1 // ORDINALITY is 1-based
		if pos < 0 || pos >= len(results) {
			r.logger.WarnContext(ctx, "forecast batch row index out of range",
				"idx", idx,
				"lookups", len(lookups),
			)
			continue
		}
		results[pos] = n.record()
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate forecast batch rows", err)
	}
	return results, nil
}

// GetForecastHistory returns one row per model run at the stored
// forecast_time nearest to t, oldest run first. Rows without a known model
// run are keyed by fetched_at instead.
func (r *ForecastRepository) GetForecastHistory(ctx context.Context, checkpointID string, t time.Time) ([]*types.ForecastRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (COALESCE(yr_model_run_at, fetched_at)) `+forecastColumns+`
		 FROM forecasts
		 WHERE checkpoint_id = $1
		   AND forecast_time = (
		       SELECT forecast_time FROM forecasts
		       WHERE checkpoint_id = $1
		         AND forecast_time BETWEEN $2::timestamptz - `+windowSQL+` AND $2::timestamptz + `+windowSQL+`
		       ORDER BY ABS(EXTRACT(EPOCH FROM (forecast_time - $2::timestamptz)))
		       LIMIT 1
		   )
		 ORDER BY COALESCE(yr_model_run_at, fetched_at) ASC, fetched_at DESC
		 LIMIT $3`,
		checkpointID, t, MaxForecastHistory,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query forecast history", err)
	}
	defer rows.Close()

	history := []*types.ForecastRecord{}
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan forecast history row", err)
		}
		history = append(history, f)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate forecast history rows", err)
	}
	return history, nil
}
