package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"weatherbingo/internal/types"
)

// RaceRepository reads the race catalogue. Races and checkpoints are seeded
// externally and never written here.
type RaceRepository struct {
	db DBTX
}

// NewRaceRepository creates a new RaceRepository.
func NewRaceRepository(db DBTX) *RaceRepository {
	return &RaceRepository{db: db}
}

const raceColumns = `id, name, year, start_time, distance_km`

const checkpointColumns = `id, race_id, name, distance_km, latitude, longitude, elevation_m, sort_order`

func scanRace(row pgx.Row) (*types.Race, error) {
	var r types.Race
	if err := row.Scan(&r.ID, &r.Name, &r.Year, &r.StartTime, &r.DistanceKm); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanCheckpoint(row pgx.Row) (*types.Checkpoint, error) {
	var c types.Checkpoint
	err := row.Scan(&c.ID, &c.RaceID, &c.Name, &c.DistanceKm,
		&c.Latitude, &c.Longitude, &c.ElevationM, &c.SortOrder)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListRaces returns every race, newest year first.
func (r *RaceRepository) ListRaces(ctx context.Context) ([]types.Race, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+raceColumns+` FROM races ORDER BY year DESC, name`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list races", err)
	}
	defer rows.Close()

	races := []types.Race{}
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan race", err)
		}
		races = append(races, *race)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate races", err)
	}
	return races, nil
}

// GetRaceSummary returns the race or nil, nil when it does not exist.
func (r *RaceRepository) GetRaceSummary(ctx context.Context, id string) (*types.Race, error) {
	race, err := scanRace(r.db.QueryRow(ctx,
		`SELECT `+raceColumns+` FROM races WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read race", err)
	}
	return race, nil
}

// GetCheckpoints returns a race's checkpoints in course order.
func (r *RaceRepository) GetCheckpoints(ctx context.Context, raceID string) ([]types.Checkpoint, error) {
	return r.queryCheckpoints(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE race_id = $1 ORDER BY sort_order`,
		raceID)
}

// GetCheckpoint returns the checkpoint or nil, nil when it does not exist.
func (r *RaceRepository) GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	cp, err := scanCheckpoint(r.db.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read checkpoint", err)
	}
	return cp, nil
}

// GetUpcomingRacesWithCheckpoints returns races starting between one day ago
// and lookaheadDays from now, ordered by start time, each with its
// checkpoints in course order.
func (r *RaceRepository) GetUpcomingRacesWithCheckpoints(ctx context.Context, lookaheadDays int) ([]types.RaceWithCheckpoints, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+raceColumns+`
		 FROM races
		 WHERE start_time BETWEEN NOW() - INTERVAL '1 day'
		                      AND NOW() + make_interval(days => $1::int)
		 ORDER BY start_time`,
		lookaheadDays,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query upcoming races", err)
	}

	var result []types.RaceWithCheckpoints
	var ids []string
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			rows.Close()
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan upcoming race", err)
		}
		result = append(result, types.RaceWithCheckpoints{Race: *race, Checkpoints: []types.Checkpoint{}})
		ids = append(ids, race.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate upcoming races", err)
	}
	if len(result) == 0 {
		return []types.RaceWithCheckpoints{}, nil
	}

	cps, err := r.queryCheckpoints(ctx,
		`SELECT `+checkpointColumns+`
		 FROM checkpoints
		 WHERE race_id = ANY($1::uuid[])
		 ORDER BY race_id, sort_order`,
		ids)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(result))
	for i, rwc := range result {
		pos[rwc.Race.ID] = i
	}
	for _, cp := range cps {
		if i, ok := pos[cp.RaceID]; ok {
			result[i].Checkpoints = append(result[i].Checkpoints, cp)
		}
	}
	return result, nil
}

func (r *RaceRepository) queryCheckpoints(ctx context.Context, sql string, args ...any) ([]types.Checkpoint, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query checkpoints", err)
	}
	defer rows.Close()

	cps := []types.Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan checkpoint", err)
		}
		cps = append(cps, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate checkpoints", err)
	}
	return cps, nil
}
