package types

import "time"

// ForecastSource identifies the upstream provider stored on every record.
const ForecastSource = "yr.no"

// Precipitation type labels produced by the derived-metric inference.
const (
	PrecipNone  = "none"
	PrecipRain  = "rain"
	PrecipSleet = "sleet"
	PrecipSnow  = "snow"
)

// CachedTimeseries is the single cache row kept per checkpoint for the
// upstream location timeseries. RawResponse is the opaque JSON document.
type CachedTimeseries struct {
	CheckpointID string
	Latitude     float64
	Longitude    float64
	ElevationM   float64
	FetchedAt    time.Time
	ExpiresAt    time.Time
	LastModified *string
	RawResponse  []byte
}

// ForecastWeather carries the weather fields shared by extracted entries and
// stored records. Pointer fields are optional upstream and stay nil when the
// provider omits them.
type ForecastWeather struct {
	TemperatureC       float64  `json:"temperature_c"`
	TemperatureP10C    *float64 `json:"temperature_percentile_10_c"`
	TemperatureP90C    *float64 `json:"temperature_percentile_90_c"`
	WindSpeedMs        float64  `json:"wind_speed_ms"`
	WindSpeedP10Ms     *float64 `json:"wind_speed_percentile_10_ms"`
	WindSpeedP90Ms     *float64 `json:"wind_speed_percentile_90_ms"`
	WindDirectionDeg   float64  `json:"wind_direction_deg"`
	WindGustMs         *float64 `json:"wind_gust_ms"`
	PrecipitationMm    float64  `json:"precipitation_mm"`
	PrecipitationMinMm *float64 `json:"precipitation_min_mm"`
	PrecipitationMaxMm *float64 `json:"precipitation_max_mm"`
	HumidityPct        float64  `json:"humidity_pct"`
	DewPointC          float64  `json:"dew_point_c"`
	CloudCoverPct      float64  `json:"cloud_cover_pct"`
	UVIndex            *float64 `json:"uv_index"`
	SymbolCode         string   `json:"symbol_code"`
	FeelsLikeC         float64  `json:"feels_like_c"`
	PrecipitationType  string   `json:"precipitation_type"`
	SnowTemperatureC   float64  `json:"snow_temperature_c"`
}

// ExtractedForecast is a single upstream timeseries entry parsed into
// domain fields. ForecastTime is always the entry's own timestamp, never the
// time that was requested.
type ExtractedForecast struct {
	ForecastTime time.Time
	ModelRunAt   *time.Time
	ForecastWeather
}

// ForecastRecord is an immutable stored observation. It is unique per
// (checkpoint, forecast time, model run) when the model run is known, and per
// (checkpoint, forecast time) otherwise.
type ForecastRecord struct {
	ID           string     `json:"id"`
	CheckpointID string     `json:"checkpoint_id"`
	ForecastTime time.Time  `json:"forecast_time"`
	FetchedAt    time.Time  `json:"fetched_at"`
	Source       string     `json:"source"`
	ModelRunAt   *time.Time `json:"yr_model_run_at"`
	CreatedAt    time.Time  `json:"created_at"`
	ForecastWeather
}

// NewForecastRecord builds the insertable record for an extracted entry.
func NewForecastRecord(checkpointID string, fetchedAt time.Time, e *ExtractedForecast) *ForecastRecord {
	return &ForecastRecord{
		CheckpointID:    checkpointID,
		ForecastTime:    e.ForecastTime,
		FetchedAt:       fetchedAt,
		Source:          ForecastSource,
		ModelRunAt:      e.ModelRunAt,
		ForecastWeather: e.ForecastWeather,
	}
}

// ForecastLookup identifies one (checkpoint, time) pair for batched reads.
type ForecastLookup struct {
	CheckpointID string
	Time         time.Time
}
