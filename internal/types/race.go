package types

import "time"

// Race is a single edition of a race (name + year) with a fixed start time.
type Race struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Year       int       `json:"year"`
	StartTime  time.Time `json:"start_time"`
	DistanceKm float64   `json:"distance_km"`
}

// Checkpoint is a fixed point along a race course. Checkpoints are seeded
// together with their race and never modified by this service.
type Checkpoint struct {
	ID         string  `json:"id"`
	RaceID     string  `json:"race_id"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	ElevationM float64 `json:"elevation_m"`
	SortOrder  int     `json:"sort_order"`
}

// RaceWithCheckpoints pairs a race with its checkpoints in course order.
type RaceWithCheckpoints struct {
	Race        Race
	Checkpoints []Checkpoint
}
