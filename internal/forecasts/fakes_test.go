package forecasts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"weatherbingo/internal/external"
	"weatherbingo/internal/types"
)

// fixedClock is a test clock that returns a fixed time.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// memCache implements CacheStore over a map, with the expiry check done
// against the test clock instead of the database clock.
type memCache struct {
	mu     sync.Mutex
	clock  types.Clock
	rows   map[string]types.CachedTimeseries
	writes int
	err    error
}

func newMemCache(clock types.Clock) *memCache {
	return &memCache{clock: clock, rows: map[string]types.CachedTimeseries{}}
}

func (m *memCache) GetFreshCache(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	row, ok := m.rows[id]
	if !ok || !row.ExpiresAt.After(m.clock.Now()) {
		return nil, nil
	}
	return row.RawResponse, nil
}

func (m *memCache) GetAnyCache(_ context.Context, id string) (*types.CachedTimeseries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memCache) UpsertCache(ctx context.Context, row *types.CachedTimeseries) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.rows[row.CheckpointID] = *row
	return nil
}

func (m *memCache) BumpCacheExpiry(ctx context.Context, id string, expiresAt time.Time, lastModified *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	row, ok := m.rows[id]
	if !ok {
		return nil
	}
	row.ExpiresAt = expiresAt
	if lastModified != nil {
		row.LastModified = lastModified
	}
	m.rows[id] = row
	return nil
}

// fakeUpstream returns a canned response or error and records the
// revalidation tokens it was sent. onFetch runs during the call.
type fakeUpstream struct {
	mu      sync.Mutex
	resp    *external.YrResponse
	err     error
	calls   int
	tokens  []*string
	onFetch func()
}

func (f *fakeUpstream) FetchTimeseries(_ context.Context, _, _, _ float64, ims *string) (*external.YrResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch()
	}
	f.calls++
	f.tokens = append(f.tokens, ims)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeSource implements PayloadSource with per-checkpoint payloads or errors.
type fakeSource struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	inflight int
	peak     int
	delay    time.Duration
}

func (f *fakeSource) EnsureFresh(_ context.Context, cp types.Checkpoint) ([]byte, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	if err := f.errs[cp.ID]; err != nil {
		return nil, err
	}
	return f.payloads[cp.ID], nil
}

var errProviderDown = errors.New("dial tcp: connection refused")

// memForecasts implements ForecastStore with the same dedup key and nearest
// lookup the database applies. Like pgx, it refuses work on a done context.
type memForecasts struct {
	mu        sync.Mutex
	rows      []*types.ForecastRecord
	seq       int
	insertErr error
	batchErr  error
	batches   int
}

func sameRun(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *memForecasts) InsertForecastIfAbsent(ctx context.Context, rec *types.ForecastRecord) (*types.ForecastRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	for _, r := range m.rows {
		if r.CheckpointID == rec.CheckpointID && r.ForecastTime.Equal(rec.ForecastTime) && sameRun(r.ModelRunAt, rec.ModelRunAt) {
			return nil, nil
		}
	}
	m.seq++
	cp := *rec
	cp.ID = fmt.Sprintf("fc-%d", m.seq)
	m.rows = append(m.rows, &cp)
	return &cp, nil
}

func (m *memForecasts) nearest(id string, t time.Time) *types.ForecastRecord {
	var best *types.ForecastRecord
	var bestDist time.Duration
	for _, r := range m.rows {
		if r.CheckpointID != id {
			continue
		}
		d := absDuration(r.ForecastTime.Sub(t))
		if d > 3*time.Hour {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = r, d
		}
	}
	return best
}

func (m *memForecasts) GetLatestForecast(ctx context.Context, id string, t time.Time) (*types.ForecastRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nearest(id, t), nil
}

func (m *memForecasts) GetLatestForecastsBatch(ctx context.Context, lookups []types.ForecastLookup) ([]*types.ForecastRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	out := make([]*types.ForecastRecord, len(lookups))
	for i, l := range lookups {
		out[i] = m.nearest(l.CheckpointID, l.Time)
	}
	return out, nil
}

func (m *memForecasts) GetForecastHistory(_ context.Context, id string, _ time.Time) ([]*types.ForecastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ForecastRecord
	for _, r := range m.rows {
		if r.CheckpointID == id {
			out = append(out, r)
		}
	}
	return out, nil
}
