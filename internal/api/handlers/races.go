// Package handlers contains the HTTP handlers of the Weather Bingo API:
// races and their checkpoints, checkpoint and race-wide forecasts, forecast
// history and the poller status.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weatherbingo/internal/core"
	"weatherbingo/internal/types"
)

// RaceReader is the read-only race catalogue. *db.Store implements it.
type RaceReader interface {
	ListRaces(ctx context.Context) ([]types.Race, error)
	GetRaceSummary(ctx context.Context, id string) (*types.Race, error)
	GetCheckpoints(ctx context.Context, raceID string) ([]types.Checkpoint, error)
	GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error)
}

// RaceHandler serves the race catalogue.
type RaceHandler struct {
	races     RaceReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewRaceHandler creates a RaceHandler.
func NewRaceHandler(races RaceReader, val *core.Validator, logger *slog.Logger) *RaceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &RaceHandler{races: races, validator: val, logger: logger}
}

// RegisterRoutes mounts the race endpoints; expected under /races.
func (h *RaceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Get("/{raceID}/checkpoints", h.HandleCheckpoints)
}

// HandleList handles GET /races.
func (h *RaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	races, err := h.races.ListRaces(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if races == nil {
		races = []types.Race{}
	}
	core.JSON(w, r, http.StatusOK, races)
}

// HandleCheckpoints handles GET /races/{raceID}/checkpoints. A missing race
// is a 404, not an empty list.
func (h *RaceHandler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
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
	if checkpoints == nil {
		checkpoints = []types.Checkpoint{}
	}
	core.JSON(w, r, http.StatusOK, checkpoints)
}

func loadRace(ctx context.Context, races RaceReader, val *core.Validator, raw string) (*types.Race, error) {
	id, err := val.UUID("race_id", raw)
	if err != nil {
		return nil, err
	}
	race, err := races.GetRaceSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	if race == nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundRace,
			"race not found", nil, map[string]any{"race_id": id})
	}
	return race, nil
}

func loadCheckpoint(ctx context.Context, races RaceReader, val *core.Validator, raw string) (*types.Checkpoint, error) {
	id, err := val.UUID("checkpoint_id", raw)
	if err != nil {
		return nil, err
	}
	cp, err := races.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundCheckpoint,
			"checkpoint not found", nil, map[string]any{"checkpoint_id": id})
	}
	return cp, nil
}
