package forecasts

import (
	"context"
	"log/slog"
	"time"

	"weatherbingo/internal/types"
)

// Matching tolerances per resolution tier. Entries with a 1-hour period block
// are hourly ("fine"); entries with only a 6-hour block are "coarse".
const (
	FineTolerance   = time.Hour
	CoarseTolerance = 3 * time.Hour
)

// defaultSymbolCode is used when no period block carries a symbol.
const defaultSymbolCode = "unknown"

// mandatoryFields are instant details the derived metrics depend on. A missing
// value is logged and replaced by 0.
var mandatoryFields = []string{
	"air_temperature",
	"wind_speed",
	"wind_from_direction",
	"relative_humidity",
	"dew_point_temperature",
	"cloud_area_fraction",
}

// ExtractionResult holds one entry per requested time, aligned by index. A
// nil entry means the requested time could not be matched within tolerance.
type ExtractionResult struct {
	Entries    []*types.ExtractedForecast
	Horizon    time.Time
	ModelRunAt *time.Time
}

// Extractor maps requested timestamps onto a parsed upstream timeseries.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger falls back to slog.Default.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

type timedEntry struct {
	at    time.Time
	entry *TimeseriesEntry
}

// ExtractRaw parses the payload and extracts the requested times.
func (x *Extractor) ExtractRaw(ctx context.Context, raw []byte, requested []time.Time) (*ExtractionResult, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	return x.Extract(ctx, doc, requested)
}

// Extract finds, for each requested time, the nearest timeseries entry
// (earliest in payload order on ties) and parses it if the distance is within
// the entry's tier tolerance.
func (x *Extractor) Extract(ctx context.Context, doc *Document, requested []time.Time) (*ExtractionResult, error) {
	series := doc.Properties.Timeseries
	if len(series) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecastInvalid, "upstream timeseries is empty", nil)
	}

	modelRun, err := doc.ModelRunAt()
	if err != nil {
		x.logger.WarnContext(ctx, "unparseable model run timestamp",
			"updated_at", doc.Properties.Meta.UpdatedAt,
			"error", err,
		)
	}

	valid := make([]timedEntry, 0, len(series))
	for i := range series {
		t, err := time.Parse(time.RFC3339, series[i].Time)
		if err != nil {
			x.logger.WarnContext(ctx, "skipping timeseries entry with unparseable time",
				"time", series[i].Time,
				"index", i,
			)
			continue
		}
		valid = append(valid, timedEntry{at: t.UTC(), entry: &series[i]})
	}
	if len(valid) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecastInvalid, "upstream timeseries has no parseable timestamps", nil)
	}

	horizon := valid[0].at
	for _, v := range valid[1:] {
		if v.at.After(horizon) {
			horizon = v.at
		}
	}

	result := &ExtractionResult{
		Entries:    make([]*types.ExtractedForecast, len(requested)),
		Horizon:    horizon,
		ModelRunAt: modelRun,
	}
	for i, target := range requested {
		nearest, distance := nearestEntry(valid, target)
		tolerance := CoarseTolerance
		if nearest.entry.Data.Next1Hours != nil {
			tolerance = FineTolerance
		}
		if distance > tolerance {
			continue
		}
		result.Entries[i] = x.parseEntry(ctx, nearest, modelRun)
	}
	return result, nil
}

// nearestEntry scans in payload order and keeps the first entry with the
// smallest absolute distance.
func nearestEntry(entries []timedEntry, target time.Time) (timedEntry, time.Duration) {
	best := entries[0]
	bestDist := absDuration(best.at.Sub(target))
	for _, e := range entries[1:] {
		if d := absDuration(e.at.Sub(target)); d < bestDist {
			best, bestDist = e, d
		}
	}
	return best, bestDist
}

func (x *Extractor) parseEntry(ctx context.Context, te timedEntry, modelRun *time.Time) *types.ExtractedForecast {
	details := te.entry.Data.Instant.Details

	mandatory := make(map[string]float64, len(mandatoryFields))
	for _, key := range mandatoryFields {
		v, ok := number(details, key)
		if !ok {
			x.logger.WarnContext(ctx, "missing forecast field, defaulting to 0",
				"field", key,
				"forecast_time", te.at.Format(time.RFC3339),
			)
		}
		mandatory[key] = round1(v)
	}

	symbol := defaultSymbolCode
	var precip float64
	var precipMin, precipMax *float64
	if p := te.entry.period(); p != nil {
		if p.Summary.SymbolCode != "" {
			symbol = p.Summary.SymbolCode
		}
		if v, ok := number(p.Details, "precipitation_amount"); ok {
			precip = round1(v)
		}
		precipMin = optional(p.Details, "precipitation_amount_min")
		precipMax = optional(p.Details, "precipitation_amount_max")
	}

	temp := mandatory["air_temperature"]
	wind := mandatory["wind_speed"]
	dew := mandatory["dew_point_temperature"]
	cloud := mandatory["cloud_area_fraction"]

	return &types.ExtractedForecast{
		ForecastTime: te.at,
		ModelRunAt:   modelRun,
		ForecastWeather: types.ForecastWeather{
			TemperatureC:       temp,
			TemperatureP10C:    optional(details, "air_temperature_percentile_10"),
			TemperatureP90C:    optional(details, "air_temperature_percentile_90"),
			WindSpeedMs:        wind,
			WindSpeedP10Ms:     optional(details, "wind_speed_percentile_10"),
			WindSpeedP90Ms:     optional(details, "wind_speed_percentile_90"),
			WindDirectionDeg:   mandatory["wind_from_direction"],
			WindGustMs:         optional(details, "wind_speed_of_gust"),
			PrecipitationMm:    precip,
			PrecipitationMinMm: precipMin,
			PrecipitationMaxMm: precipMax,
			HumidityPct:        mandatory["relative_humidity"],
			DewPointC:          dew,
			CloudCoverPct:      cloud,
			UVIndex:            optional(details, "ultraviolet_index_clear_sky"),
			SymbolCode:         symbol,
			FeelsLikeC:         round1(FeelsLike(temp, wind)),
			PrecipitationType:  PrecipitationType(precip, temp, symbol),
			SnowTemperatureC:   round1(SnowTemperature(temp, dew, cloud, wind)),
		},
	}
}

// optional returns a rounded pointer to the value, or nil when absent.
func optional(details map[string]any, key string) *float64 {
	v, ok := number(details, key)
	if !ok {
		return nil
	}
	r := round1(v)
	return &r
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
