package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weatherbingo/internal/types"
)

var (
	raceStart = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	pollStart = time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
)

const cacheLifetime = 10 * time.Minute

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStore struct {
	mu          sync.Mutex
	races       []types.RaceWithCheckpoints
	racesErr    error
	cache       map[string]*types.CachedTimeseries
	expiryErr   error
	insertErr   error
	inserted    []*types.ForecastRecord
	seen        map[string]bool
	expiryCalls int
}

func newFakeStore(races ...types.RaceWithCheckpoints) *fakeStore {
	return &fakeStore{
		races: races,
		cache: map[string]*types.CachedTimeseries{},
		seen:  map[string]bool{},
	}
}

func (s *fakeStore) GetUpcomingRacesWithCheckpoints(_ context.Context, lookaheadDays int) ([]types.RaceWithCheckpoints, error) {
	if lookaheadDays != LookaheadDays {
		return nil, fmt.Errorf("unexpected lookahead %d", lookaheadDays)
	}
	return s.races, s.racesErr
}

func (s *fakeStore) GetAnyCache(_ context.Context, id string) (*types.CachedTimeseries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.cache[id]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func (s *fakeStore) GetEarliestExpiry(_ context.Context, ids []string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryCalls++
	if s.expiryErr != nil {
		return nil, s.expiryErr
	}
	var earliest *time.Time
	for _, id := range ids {
		if row, ok := s.cache[id]; ok && (earliest == nil || row.ExpiresAt.Before(*earliest)) {
			e := row.ExpiresAt
			earliest = &e
		}
	}
	return earliest, nil
}

func (s *fakeStore) InsertForecastIfAbsent(_ context.Context, rec *types.ForecastRecord) (*types.ForecastRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	key := rec.CheckpointID + "|" + rec.ForecastTime.String()
	if rec.ModelRunAt != nil {
		key += "|" + rec.ModelRunAt.String()
	}
	if s.seen[key] {
		return nil, nil
	}
	s.seen[key] = true
	stored := *rec
	stored.ID = fmt.Sprintf("fc-%d", len(s.inserted)+1)
	s.inserted = append(s.inserted, &stored)
	return &stored, nil
}

type fetchMode int

const (
	fetchNew fetchMode = iota
	fetchSame
	fetchFail
)

var errProviderDown = errors.New("provider down")

// fakeCache follows a per-checkpoint plan of fetch outcomes; the last step
// repeats. New fetches rewrite the store's cache row at the current time.
type fakeCache struct {
	mu      sync.Mutex
	store   *fakeStore
	clock   *fakeClock
	payload []byte
	plan    map[string][]fetchMode
	calls   map[string]int
}

func newFakeCache(store *fakeStore, clock *fakeClock, payload []byte) *fakeCache {
	return &fakeCache{
		store:   store,
		clock:   clock,
		payload: payload,
		plan:    map[string][]fetchMode{},
		calls:   map[string]int{},
	}
}

func (c *fakeCache) EnsureFresh(_ context.Context, cp types.Checkpoint) ([]byte, error) {
	c.mu.Lock()
	mode := fetchNew
	if steps := c.plan[cp.ID]; len(steps) > 0 {
		i := c.calls[cp.ID]
		if i >= len(steps) {
			i = len(steps) - 1
		}
		mode = steps[i]
	}
	c.calls[cp.ID]++
	c.mu.Unlock()

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	switch mode {
	case fetchFail:
		return nil, errProviderDown
	case fetchSame:
		row, ok := c.store.cache[cp.ID]
		if !ok {
			return nil, errors.New("no cached payload to revalidate")
		}
		row.ExpiresAt = c.clock.Now().Add(cacheLifetime)
		return row.RawResponse, nil
	default:
		now := c.clock.Now()
		c.store.cache[cp.ID] = &types.CachedTimeseries{
			CheckpointID: cp.ID,
			FetchedAt:    now,
			ExpiresAt:    now.Add(cacheLifetime),
			RawResponse:  c.payload,
		}
		return c.payload, nil
	}
}

// sleepRecorder advances the fake clock instead of waiting.
type sleepRecorder struct {
	clock  *fakeClock
	sleeps []time.Duration
	hook   func(d time.Duration) error
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	if r.hook != nil {
		if err := r.hook(d); err != nil {
			return err
		}
	}
	r.clock.Advance(d)
	return ctx.Err()
}

type recordingMetrics struct {
	summaries []types.CycleSummary
	err       error
}

func (m *recordingMetrics) RecordCycle(_ context.Context, s types.CycleSummary) error {
	m.summaries = append(m.summaries, s)
	return m.err
}

type recordingNotifier struct {
	updates []types.ForecastUpdate
	err     error
}

func (n *recordingNotifier) NotifyUpdated(_ context.Context, u types.ForecastUpdate) error {
	n.updates = append(n.updates, u)
	return n.err
}

type archived struct {
	checkpointID string
	fetchedAt    time.Time
	payload      []byte
}

type recordingArchiver struct {
	items []archived
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, id string, fetchedAt time.Time, payload []byte) error {
	a.items = append(a.items, archived{id, fetchedAt, payload})
	return a.err
}

func testRace(checkpoints ...types.Checkpoint) types.RaceWithCheckpoints {
	race := types.Race{ID: "race-1", Name: "Vasaloppet", Year: 2026, StartTime: raceStart, DistanceKm: 90}
	for i := range checkpoints {
		checkpoints[i].RaceID = race.ID
	}
	return types.RaceWithCheckpoints{Race: race, Checkpoints: checkpoints}
}

func testCheckpoint(id, name string, km float64) types.Checkpoint {
	return types.Checkpoint{ID: id, Name: name, DistanceKm: km, Latitude: 61.1, Longitude: 13.3, ElevationM: 350}
}

// hourlyPayload builds an upstream document with hourly entries covering
// race day.
func hourlyPayload(t *testing.T) []byte {
	t.Helper()
	from := raceStart.Add(-3 * time.Hour)
	series := make([]map[string]any, 0, 24)
	for i := 0; i < 24; i++ {
		series = append(series, map[string]any{
			"time": from.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			"data": map[string]any{
				"instant": map[string]any{"details": map[string]any{
					"air_temperature":       -6.0,
					"wind_speed":            2.5,
					"wind_from_direction":   180.0,
					"relative_humidity":     85.0,
					"dew_point_temperature": -8.0,
					"cloud_area_fraction":   60.0,
				}},
				"next_1_hours": map[string]any{
					"summary": map[string]any{"symbol_code": "cloudy"},
					"details": map[string]any{"precipitation_amount": 0.0},
				},
			},
		})
	}
	raw, err := json.Marshal(map[string]any{
		"type": "Feature",
		"properties": map[string]any{
			"meta":       map[string]any{"updated_at": "2026-02-28T10:42:00Z"},
			"timeseries": series,
		},
	})
	require.NoError(t, err)
	return raw
}

type harness struct {
	poller *Poller
	store  *fakeStore
	cache  *fakeCache
	clock  *fakeClock
	sleep  *sleepRecorder
}

func newHarness(t *testing.T, races ...types.RaceWithCheckpoints) *harness {
	t.Helper()
	clock := &fakeClock{now: pollStart}
	store := newFakeStore(races...)
	cache := newFakeCache(store, clock, hourlyPayload(t))
	sleep := &sleepRecorder{clock: clock}
	h := &harness{store: store, cache: cache, clock: clock, sleep: sleep}
	h.poller = NewPoller(PollerConfig{
		Store: store,
		Cache: cache,
		Clock: clock,
		Sleep: sleep.Sleep,
	})
	return h
}
