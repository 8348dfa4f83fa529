package forecasts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"weatherbingo/internal/types"
)

// FetchConcurrencyLimit bounds parallel upstream refreshes in ResolveMany.
const FetchConcurrencyLimit = 4

// ForecastStore persists extracted forecasts.
type ForecastStore interface {
	// InsertForecastIfAbsent returns nil when an equivalent row already exists.
	InsertForecastIfAbsent(ctx context.Context, rec *types.ForecastRecord) (*types.ForecastRecord, error)
	GetLatestForecast(ctx context.Context, checkpointID string, t time.Time) (*types.ForecastRecord, error)
	// GetLatestForecastsBatch returns one slot per lookup, in lookup order.
	GetLatestForecastsBatch(ctx context.Context, lookups []types.ForecastLookup) ([]*types.ForecastRecord, error)
	GetForecastHistory(ctx context.Context, checkpointID string, t time.Time) ([]*types.ForecastRecord, error)
}

// PayloadSource yields a current upstream payload for a checkpoint.
// TimeseriesCache is the production implementation.
type PayloadSource interface {
	EnsureFresh(ctx context.Context, cp types.Checkpoint) ([]byte, error)
}

// CheckpointTime is one (checkpoint, expected pass-through time) pair.
type CheckpointTime struct {
	Checkpoint types.Checkpoint
	Time       time.Time
}

// Resolution is the resolved forecast for one requested time. A nil Record
// means the time lies beyond what the provider covers; Horizon then says how
// far coverage reaches. Stale resolutions come from storage because the
// provider could not be reached, and carry no Horizon.
type Resolution struct {
	Record  *types.ForecastRecord
	Stale   bool
	Horizon *time.Time
}

// Resolver answers "what is the forecast at checkpoint C for time T",
// extracting on read from the cached payload and recording what it served.
type Resolver struct {
	source    PayloadSource
	store     ForecastStore
	extractor *Extractor
	clock     types.Clock
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(source PayloadSource, store ForecastStore, extractor *Extractor, clock types.Clock, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = NewExtractor(logger)
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Resolver{
		source:    source,
		store:     store,
		extractor: extractor,
		clock:     clock,
		logger:    logger,
	}
}

// Resolve resolves a single checkpoint. If the provider is unreachable, the
// closest stored forecast is returned as stale; with nothing stored the call
// fails with upstream_unavailable.
func (r *Resolver) Resolve(ctx context.Context, cp types.Checkpoint, at time.Time) (*Resolution, error) {
	payload, fetchErr := r.source.EnsureFresh(ctx, cp)
	// The fetch may have failed because ctx expired; storage work after it
	// must still run.
	storeCtx := context.WithoutCancel(ctx)
	if fetchErr != nil {
		stale, err := r.store.GetLatestForecast(storeCtx, cp.ID, at)
		if err != nil {
			return nil, err
		}
		if stale == nil {
			return nil, unavailable(cp, fetchErr)
		}
		r.logger.WarnContext(ctx, "serving stale forecast",
			"checkpoint_id", cp.ID,
			"error", fetchErr,
		)
		return &Resolution{Record: stale, Stale: true}, nil
	}

	result, err := r.extractor.ExtractRaw(ctx, payload, []time.Time{at})
	if err != nil {
		return nil, err
	}
	horizon := result.Horizon
	entry := result.Entries[0]
	if entry == nil {
		return &Resolution{Horizon: &horizon}, nil
	}

	inserted, err := r.store.InsertForecastIfAbsent(storeCtx, types.NewForecastRecord(cp.ID, r.clock.Now(), entry))
	if err != nil {
		return nil, err
	}
	rec, err := r.store.GetLatestForecast(storeCtx, cp.ID, at)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = inserted
	}
	return &Resolution{Record: rec, Horizon: &horizon}, nil
}

type fetchResult struct {
	payload []byte
	err     error
}

// ResolveMany resolves a batch, returning resolutions in input order.
// Upstream refreshes run with bounded concurrency; a checkpoint whose refresh
// fails falls back to storage, and if it has nothing stored the whole batch
// fails naming that checkpoint.
func (r *Resolver) ResolveMany(ctx context.Context, items []CheckpointTime) ([]Resolution, error) {
	n := len(items)
	if n == 0 {
		return []Resolution{}, nil
	}

	fetched := make([]fetchResult, n)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(FetchConcurrencyLimit)
	for i := range items {
		g.Go(func() error {
			payload, err := r.source.EnsureFresh(gCtx, items[i].Checkpoint)
			// Failures are per-checkpoint and handled below, never via the group.
			fetched[i] = fetchResult{payload: payload, err: err}
			return nil
		})
	}
	_ = g.Wait()

	storeCtx := context.WithoutCancel(ctx)
	lookups := make([]types.ForecastLookup, n)
	for i, it := range items {
		lookups[i] = types.ForecastLookup{CheckpointID: it.Checkpoint.ID, Time: it.Time}
	}
	prefetched, err := r.store.GetLatestForecastsBatch(storeCtx, lookups)
	if err != nil {
		return nil, err
	}

	results := make([]Resolution, n)
	var pending []int
	inserts := make(map[int]*types.ForecastRecord)
	now := r.clock.Now()

	for i, it := range items {
		f := fetched[i]
		if f.err != nil {
			var stale *types.ForecastRecord
			if i < len(prefetched) {
				stale = prefetched[i]
			}
			if stale == nil {
				return nil, unavailable(it.Checkpoint, f.err)
			}
			r.logger.WarnContext(ctx, "serving stale forecast",
				"checkpoint_id", it.Checkpoint.ID,
				"error", f.err,
			)
			results[i] = Resolution{Record: stale, Stale: true}
			continue
		}

		extracted, err := r.extractor.ExtractRaw(ctx, f.payload, []time.Time{it.Time})
		if err != nil {
			return nil, fmt.Errorf("extracting forecast for checkpoint %s: %w", it.Checkpoint.ID, err)
		}
		horizon := extracted.Horizon
		results[i].Horizon = &horizon
		if entry := extracted.Entries[0]; entry != nil {
			inserts[i] = types.NewForecastRecord(it.Checkpoint.ID, now, entry)
			pending = append(pending, i)
		}
	}

	if len(pending) == 0 {
		return results, nil
	}

	// Inserts are independent rows; the first failure aborts the batch.
	inserted := make([]*types.ForecastRecord, n)
	ig, igCtx := errgroup.WithContext(storeCtx)
	for _, i := range pending {
		ig.Go(func() error {
			rec, err := r.store.InsertForecastIfAbsent(igCtx, inserts[i])
			if err != nil {
				return err
			}
			inserted[i] = rec
			return nil
		})
	}
	if err := ig.Wait(); err != nil {
		return nil, err
	}

	requery := make([]types.ForecastLookup, len(pending))
	for j, i := range pending {
		requery[j] = lookups[i]
	}
	canonical, err := r.store.GetLatestForecastsBatch(storeCtx, requery)
	if err != nil {
		return nil, err
	}
	for j, i := range pending {
		var rec *types.ForecastRecord
		if j < len(canonical) {
			rec = canonical[j]
		}
		if rec == nil {
			rec = inserted[i]
		}
		results[i].Record = rec
	}
	return results, nil
}

// History returns every stored model run for the checkpoint at the stored
// forecast time nearest to at, oldest first.
func (r *Resolver) History(ctx context.Context, checkpointID string, at time.Time) ([]*types.ForecastRecord, error) {
	return r.store.GetForecastHistory(ctx, checkpointID, at)
}

func unavailable(cp types.Checkpoint, cause error) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("forecast provider unavailable for checkpoint %s and no stored forecast exists", cp.Name),
		cause,
		map[string]any{
			"checkpoint_id":   cp.ID,
			"checkpoint_name": cp.Name,
		},
	)
}
