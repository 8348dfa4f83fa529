package handlers

import (
	"time"

	"weatherbingo/internal/types"
)

// CheckpointForecastResponse is the body of GET /forecasts/checkpoint/{id}.
// When ForecastAvailable is false the requested time lies beyond the
// provider's horizon: Weather is null and ForecastHorizon says how far
// coverage reaches.
type CheckpointForecastResponse struct {
	CheckpointID      string                 `json:"checkpoint_id"`
	CheckpointName    string                 `json:"checkpoint_name"`
	ForecastTime      time.Time              `json:"forecast_time"`
	FetchedAt         *time.Time             `json:"fetched_at"`
	ModelRunAt        *time.Time             `json:"yr_model_run_at"`
	Source            string                 `json:"source"`
	Stale             bool                   `json:"stale"`
	ForecastAvailable bool                   `json:"forecast_available"`
	ForecastHorizon   *time.Time             `json:"forecast_horizon,omitempty"`
	Weather           *types.ForecastWeather `json:"weather"`
}

// HistoryEntry is one model run's view of the same forecast time.
type HistoryEntry struct {
	FetchedAt  time.Time             `json:"fetched_at"`
	ModelRunAt *time.Time            `json:"yr_model_run_at"`
	Weather    types.ForecastWeather `json:"weather"`
}

// HistoryResponse is the body of GET /forecasts/checkpoint/{id}/history.
type HistoryResponse struct {
	CheckpointID   string         `json:"checkpoint_id"`
	CheckpointName string         `json:"checkpoint_name"`
	ForecastTime   time.Time      `json:"forecast_time"`
	History        []HistoryEntry `json:"history"`
}

// RaceWeather is the compact weather summary shown per checkpoint in a race
// forecast.
type RaceWeather struct {
	TemperatureC      float64  `json:"temperature_c"`
	TemperatureP10C   *float64 `json:"temperature_percentile_10_c"`
	TemperatureP90C   *float64 `json:"temperature_percentile_90_c"`
	FeelsLikeC        float64  `json:"feels_like_c"`
	WindSpeedMs       float64  `json:"wind_speed_ms"`
	WindSpeedP10Ms    *float64 `json:"wind_speed_percentile_10_ms"`
	WindSpeedP90Ms    *float64 `json:"wind_speed_percentile_90_ms"`
	WindDirectionDeg  float64  `json:"wind_direction_deg"`
	PrecipitationMm   float64  `json:"precipitation_mm"`
	PrecipitationType string   `json:"precipitation_type"`
	SnowTemperatureC  float64  `json:"snow_temperature_c"`
	SymbolCode        string   `json:"symbol_code"`
}

func raceWeather(w types.ForecastWeather) *RaceWeather {
	return &RaceWeather{
		TemperatureC:      w.TemperatureC,
		TemperatureP10C:   w.TemperatureP10C,
		TemperatureP90C:   w.TemperatureP90C,
		FeelsLikeC:        w.FeelsLikeC,
		WindSpeedMs:       w.WindSpeedMs,
		WindSpeedP10Ms:    w.WindSpeedP10Ms,
		WindSpeedP90Ms:    w.WindSpeedP90Ms,
		WindDirectionDeg:  w.WindDirectionDeg,
		PrecipitationMm:   w.PrecipitationMm,
		PrecipitationType: w.PrecipitationType,
		SnowTemperatureC:  w.SnowTemperatureC,
		SymbolCode:        w.SymbolCode,
	}
}

// RaceForecastCheckpoint is one row of a race forecast.
type RaceForecastCheckpoint struct {
	CheckpointID      string       `json:"checkpoint_id"`
	Name              string       `json:"name"`
	DistanceKm        float64      `json:"distance_km"`
	ExpectedTime      time.Time    `json:"expected_time"`
	ForecastTime      *time.Time   `json:"forecast_time"`
	Stale             bool         `json:"stale"`
	ForecastAvailable bool         `json:"forecast_available"`
	ForecastHorizon   *time.Time   `json:"forecast_horizon,omitempty"`
	Weather           *RaceWeather `json:"weather"`
}

// RaceForecastResponse is the body of GET /forecasts/race/{id}.
type RaceForecastResponse struct {
	RaceID              string                   `json:"race_id"`
	RaceName            string                   `json:"race_name"`
	TargetDurationHours float64                  `json:"target_duration_hours"`
	Checkpoints         []RaceForecastCheckpoint `json:"checkpoints"`
}
