package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"weatherbingo/internal/core"
	"weatherbingo/internal/forecasts"
	"weatherbingo/internal/types"
)

// StaleHeader is set to "true" when any served forecast came from storage
// because the provider was unreachable.
const StaleHeader = "X-Forecast-Stale"

// ForecastResolver is the forecast read path. *forecasts.Resolver
// implements it.
type ForecastResolver interface {
	Resolve(ctx context.Context, cp types.Checkpoint, at time.Time) (*forecasts.Resolution, error)
	ResolveMany(ctx context.Context, items []forecasts.CheckpointTime) ([]forecasts.Resolution, error)
	History(ctx context.Context, checkpointID string, at time.Time) ([]*types.ForecastRecord, error)
}

// ForecastHandler serves checkpoint and race forecasts.
type ForecastHandler struct {
	races     RaceReader
	resolver  ForecastResolver
	validator *core.Validator
	logger    *slog.Logger
}

// NewForecastHandler creates a ForecastHandler.
func NewForecastHandler(races RaceReader, resolver ForecastResolver, val *core.Validator, logger *slog.Logger) *ForecastHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &ForecastHandler{
		races:     races,
		resolver:  resolver,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the forecast endpoints; expected under /forecasts.
func (h *ForecastHandler) RegisterRoutes(r chi.Router) {
	r.Get("/checkpoint/{checkpointID}", h.HandleCheckpoint)
	r.Get("/checkpoint/{checkpointID}/history", h.HandleHistory)
	r.Get("/race/{raceID}", h.HandleRace)
}

// HandleCheckpoint handles GET /forecasts/checkpoint/{checkpointID}?datetime=.
func (h *ForecastHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	at, err := parseDatetime(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	cp, err := loadCheckpoint(r.Context(), h.races, h.validator, chi.URLParam(r, "checkpointID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), *cp, at)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			err = appErr.WithDetails(map[string]any{"checkpoint_name": cp.Name})
		}
		core.Error(w, r, err)
		return
	}

	resp := CheckpointForecastResponse{
		CheckpointID:   cp.ID,
		CheckpointName: cp.Name,
		ForecastTime:   at,
		Source:         types.ForecastSource,
		Stale:          res.Stale,
	}
	if rec := res.Record; rec != nil {
		weather := rec.ForecastWeather
		fetchedAt := rec.FetchedAt
		resp.ForecastTime = rec.ForecastTime
		resp.FetchedAt = &fetchedAt
		resp.ModelRunAt = rec.ModelRunAt
		resp.Source = rec.Source
		resp.ForecastAvailable = true
		resp.Weather = &weather
	} else {
		resp.ForecastHorizon = res.Horizon
	}

	if res.Stale {
		w.Header().Set(StaleHeader, "true")
		h.logger.WarnContext(r.Context(), "serving stale forecast", "checkpoint_id", cp.ID)
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// HandleHistory handles GET /forecasts/checkpoint/{checkpointID}/history?datetime=.
// The response forecast_time is the stored time the history was found at,
// or the requested time when nothing is stored.
func (h *ForecastHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	at, err := parseDatetime(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	cp, err := loadCheckpoint(r.Context(), h.races, h.validator, chi.URLParam(r, "checkpointID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	records, err := h.resolver.History(r.Context(), cp.ID, at)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := HistoryResponse{
		CheckpointID:   cp.ID,
		CheckpointName: cp.Name,
		ForecastTime:   at,
		History:        make([]HistoryEntry, 0, len(records)),
	}
	if len(records) > 0 {
		resp.ForecastTime = records[0].ForecastTime
	}
	for _, rec := range records {
		resp.History = append(resp.History, HistoryEntry{
			FetchedAt:  rec.FetchedAt,
			ModelRunAt: rec.ModelRunAt,
			Weather:    rec.ForecastWeather,
		})
	}
	core.JSON(w, r, http.StatusOK, resp)
}

type raceForecastQuery struct {
	TargetDurationHours float64 `validate:"race_duration"`
}

// HandleRace handles GET /forecasts/race/{raceID}?target_duration_hours=.
// Expected pass-through times come from the elevation-weighted pacing
// model; all checkpoints are then resolved in one batch.
func (h *ForecastHandler) HandleRace(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseRaceQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	race, err := loadRace(r.Context(), h.races, h.validator, chi.URLParam(r, "raceID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	checkpoints, err := h.races.GetCheckpoints(r.Context(), race.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	points := make([]forecasts.PacingPoint, len(checkpoints))
	for i, cp := range checkpoints {
		points[i] = forecasts.PacingPoint{DistanceKm: cp.DistanceKm, ElevationM: cp.ElevationM}
	}
	fractions := forecasts.Fractions(points)

	items := make([]forecasts.CheckpointTime, len(checkpoints))
	for i, cp := range checkpoints {
		items[i] = forecasts.CheckpointTime{
			Checkpoint: cp,
			Time:       forecasts.WeightedTime(race.StartTime, fractions[i], q.TargetDurationHours),
		}
	}

	resolved, err := h.resolver.ResolveMany(r.Context(), items)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := RaceForecastResponse{
		RaceID:              race.ID,
		RaceName:            race.Name,
		TargetDurationHours: q.TargetDurationHours,
		Checkpoints:         make([]RaceForecastCheckpoint, len(items)),
	}
	anyStale := false
	for i, item := range items {
		row := RaceForecastCheckpoint{
			CheckpointID: item.Checkpoint.ID,
			Name:         item.Checkpoint.Name,
			DistanceKm:   item.Checkpoint.DistanceKm,
			ExpectedTime: item.Time,
		}
		res := resolved[i]
		if res.Record != nil {
			ft := res.Record.ForecastTime
			row.ForecastTime = &ft
			row.Stale = res.Stale
			row.ForecastAvailable = true
			row.Weather = raceWeather(res.Record.ForecastWeather)
			anyStale = anyStale || res.Stale
		} else {
			row.ForecastHorizon = res.Horizon
		}
		resp.Checkpoints[i] = row
	}

	if anyStale {
		w.Header().Set(StaleHeader, "true")
	}
	core.JSON(w, r, http.StatusOK, resp)
}

func (h *ForecastHandler) parseRaceQuery(r *http.Request) (raceForecastQuery, error) {
	var q raceForecastQuery
	raw := r.URL.Query().Get("target_duration_hours")
	if raw == "" {
		return q, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"target_duration_hours query parameter is required", nil,
			map[string]any{"field": "target_duration_hours"})
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return q, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDuration,
			"target_duration_hours must be a number", err,
			map[string]any{"target_duration_hours": raw})
	}
	q.TargetDurationHours = hours
	if err := h.validator.Struct(q, types.ErrCodeValidationInvalidDuration,
		"target_duration_hours must be greater than 0 and at most 48"); err != nil {
		return q, err
	}
	return q, nil
}

// parseDatetime reads the required RFC 3339 "datetime" query parameter.
func parseDatetime(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("datetime")
	if raw == "" {
		return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"datetime query parameter is required", nil,
			map[string]any{"field": "datetime"})
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDatetime,
			"datetime must be an RFC 3339 timestamp", err,
			map[string]any{"datetime": raw})
	}
	return t.UTC(), nil
}
