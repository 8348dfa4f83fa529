// Package scheduler runs the background poller that keeps the upstream
// timeseries cache warm for upcoming races and records forecasts at the
// hours skiers are expected to pass each checkpoint.
//
// A cycle reads races starting within the lookahead window, refreshes every
// checkpoint's cached payload, extracts forecasts for new payloads, retries
// checkpoints that came back unchanged, and then sleeps until shortly after
// the earliest cache expiry. Per-checkpoint failures are recorded in the
// published state and never abort a cycle.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"weatherbingo/internal/forecasts"
	"weatherbingo/internal/types"
)

// Poll scheduling.
const (
	// LookaheadDays is how far ahead a race must start to be polled; yr.no
	// forecasts reach about ten days.
	LookaheadDays = 10

	// ExpiryBuffer is added to the earliest cache expiry so the next cycle
	// wakes just after it.
	ExpiryBuffer = 30 * time.Second
	// MinSleep and MaxSleep clamp the wait between cycles.
	MinSleep = 60 * time.Second
	MaxSleep = 1800 * time.Second
	// NoRacesSleep is the wait when no race is within LookaheadDays.
	NoRacesSleep = 3600 * time.Second
	// QueryErrorSleep is the wait after the race query itself failed.
	QueryErrorSleep = 60 * time.Second

	// NotModifiedRetryDelay separates passes over checkpoints whose payload
	// came back unchanged; at most MaxNotModifiedRetries passes run.
	NotModifiedRetryDelay = 120 * time.Second
	MaxNotModifiedRetries = 5
)

// Store abstracts the database reads and writes the poller needs.
// *db.Store satisfies it.
type Store interface {
	GetUpcomingRacesWithCheckpoints(ctx context.Context, lookaheadDays int) ([]types.RaceWithCheckpoints, error)
	GetAnyCache(ctx context.Context, checkpointID string) (*types.CachedTimeseries, error)
	GetEarliestExpiry(ctx context.Context, checkpointIDs []string) (*time.Time, error)
	InsertForecastIfAbsent(ctx context.Context, rec *types.ForecastRecord) (*types.ForecastRecord, error)
}

// CycleMetrics receives a summary after every completed cycle.
type CycleMetrics interface {
	RecordCycle(ctx context.Context, summary types.CycleSummary) error
}

// UpdateNotifier announces checkpoints that received new upstream data.
type UpdateNotifier interface {
	NotifyUpdated(ctx context.Context, update types.ForecastUpdate) error
}

// PayloadArchiver keeps a copy of every new upstream payload.
type PayloadArchiver interface {
	Archive(ctx context.Context, checkpointID string, fetchedAt time.Time, payload []byte) error
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollerConfig holds the dependencies for creating a Poller. Metrics,
// Notifier and Archiver are optional.
type PollerConfig struct {
	Store     Store
	Cache     forecasts.PayloadSource
	Extractor *forecasts.Extractor
	State     *StateStore
	Clock     types.Clock
	Logger    *slog.Logger
	Sleep     SleepFunc

	Metrics  CycleMetrics
	Notifier UpdateNotifier
	Archiver PayloadArchiver
}

// Poller is the background refresh loop.
type Poller struct {
	store     Store
	cache     forecasts.PayloadSource
	extractor *forecasts.Extractor
	state     *StateStore
	clock     types.Clock
	logger    *slog.Logger
	sleep     SleepFunc

	metrics  CycleMetrics
	notifier UpdateNotifier
	archiver PayloadArchiver
}

// NewPoller creates a Poller with the given configuration.
func NewPoller(cfg PollerConfig) *Poller {
	p := &Poller{
		store:     cfg.Store,
		cache:     cfg.Cache,
		extractor: cfg.Extractor,
		state:     cfg.State,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		sleep:     cfg.Sleep,
		metrics:   cfg.Metrics,
		notifier:  cfg.Notifier,
		archiver:  cfg.Archiver,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.extractor == nil {
		p.extractor = forecasts.NewExtractor(p.logger)
	}
	if p.state == nil {
		p.state = NewStateStore()
	}
	if p.clock == nil {
		p.clock = types.RealClock{}
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

// State returns the store the poller publishes to.
func (p *Poller) State() *StateStore {
	return p.state
}

// Run executes cycles until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "poller started", "lookahead_days", LookaheadDays)
	for {
		wait := p.RunCycle(ctx)
		if err := p.sleep(ctx, wait); err != nil {
			p.logger.InfoContext(ctx, "poller stopped", "reason", err)
			return err
		}
	}
}

// target is one checkpoint to poll together with the race it belongs to.
type target struct {
	checkpoint types.Checkpoint
	race       types.Race
}

// outcome is the result of polling one checkpoint. payload is set only for
// new data.
type outcome struct {
	status  types.CheckpointPollStatus
	payload []byte
}

// RunCycle performs one full poll cycle and returns how long to sleep before
// the next one.
func (p *Poller) RunCycle(ctx context.Context) time.Duration {
	start := p.clock.Now()

	races, err := p.store.GetUpcomingRacesWithCheckpoints(ctx, LookaheadDays)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to query upcoming races", "error", err)
		return QueryErrorSleep
	}
	if len(races) == 0 {
		p.handleNoRaces(ctx)
		return NoRacesSleep
	}

	var targets []target
	var ids []string
	for _, rwc := range races {
		for _, cp := range rwc.Checkpoints {
			targets = append(targets, target{checkpoint: cp, race: rwc.Race})
			ids = append(ids, cp.ID)
		}
	}

	pre := p.preFetched(ctx, targets)

	outcomes := make([]outcome, len(targets))
	for i, t := range targets {
		outcomes[i] = p.pollCheckpoint(ctx, t, pre[i])
	}
	p.publishStatuses(outcomes)

	if countResult(outcomes, types.PollResultNotModified) > 0 {
		p.retryNotModified(ctx, targets, pre, outcomes)
	}

	wait := p.finalize(ctx, ids, outcomes, start)
	p.emit(ctx, start, targets, outcomes)
	return wait
}

func (p *Poller) handleNoRaces(ctx context.Context) {
	p.logger.DebugContext(ctx, "no upcoming races",
		"lookahead_days", LookaheadDays,
		"sleep", NoRacesSleep,
	)
	now := p.clock.Now()
	p.state.update(func(s *types.PollerState) {
		wake := now.Add(NoRacesSleep)
		s.Checkpoints = []types.CheckpointPollStatus{}
		s.NextWakeupAt = &wake
		s.LastPollCompletedAt = &now
	})
}

// preFetched records each checkpoint's cache fetched_at before the cycle
// touches it, so a revalidated payload can be told apart from a new one.
func (p *Poller) preFetched(ctx context.Context, targets []target) []*time.Time {
	pre := make([]*time.Time, len(targets))
	for i, t := range targets {
		row, err := p.store.GetAnyCache(ctx, t.checkpoint.ID)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to read pre-poll cache",
				"checkpoint_id", t.checkpoint.ID,
				"error", err,
			)
			continue
		}
		if row != nil {
			fetched := row.FetchedAt
			pre[i] = &fetched
		}
	}
	return pre
}

func (p *Poller) pollCheckpoint(ctx context.Context, t target, pre *time.Time) outcome {
	cp := t.checkpoint
	status := types.CheckpointPollStatus{
		CheckpointID:   cp.ID,
		CheckpointName: cp.Name,
		RaceName:       t.race.Name,
		DistanceKm:     cp.DistanceKm,
	}
	fail := func(msg string) outcome {
		status.LastPollResult = types.PollResultErrorPrefix + msg
		return outcome{status: status}
	}

	raw, err := p.cache.EnsureFresh(ctx, cp)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to refresh checkpoint",
			"checkpoint_id", cp.ID,
			"checkpoint_name", cp.Name,
			"error", err,
		)
		return fail(err.Error())
	}

	post, err := p.store.GetAnyCache(ctx, cp.ID)
	if err != nil {
		return fail(fmt.Sprintf("DB error checking cache: %v", err))
	}
	if post == nil {
		return fail("cache row missing after refresh")
	}

	if pre != nil && post.FetchedAt.Equal(*pre) {
		status.ExpiresAt = timePtr(post.ExpiresAt)
		status.LastFetchedAt = timePtr(post.FetchedAt)
		status.LastModelRunAt = modelRunOf(raw)
		status.LastPollResult = types.PollResultNotModified
		return outcome{status: status}
	}

	times := ExtractionTimes(t.race.StartTime, cp.DistanceKm)
	result, err := p.extractor.ExtractRaw(ctx, raw, times)
	if err != nil {
		p.logger.WarnContext(ctx, "extraction failed",
			"checkpoint_id", cp.ID,
			"checkpoint_name", cp.Name,
			"error", err,
		)
		return fail(fmt.Sprintf("Extraction error: %v", err))
	}

	extracted, inserted := 0, 0
	for _, e := range result.Entries {
		if e == nil {
			continue
		}
		extracted++
		rec, err := p.store.InsertForecastIfAbsent(ctx, types.NewForecastRecord(cp.ID, post.FetchedAt, e))
		if err != nil {
			p.logger.WarnContext(ctx, "failed to insert forecast",
				"checkpoint_id", cp.ID,
				"forecast_time", e.ForecastTime,
				"error", err,
			)
			continue
		}
		if rec != nil {
			inserted++
		}
	}

	p.logger.DebugContext(ctx, "checkpoint polled",
		"checkpoint_id", cp.ID,
		"checkpoint_name", cp.Name,
		"slots", len(times),
		"extracted", extracted,
		"inserted", inserted,
	)

	status.ExpiresAt = timePtr(post.ExpiresAt)
	status.LastFetchedAt = timePtr(post.FetchedAt)
	status.LastModelRunAt = result.ModelRunAt
	status.LastPollResult = types.PollResultNewData
	status.ExtractionCount = extracted
	return outcome{status: status, payload: raw}
}

// retryNotModified re-polls checkpoints whose payload was unchanged,
// publishing after each pass and stopping once none remain.
func (p *Poller) retryNotModified(ctx context.Context, targets []target, pre []*time.Time, outcomes []outcome) {
	for attempt := 1; attempt <= MaxNotModifiedRetries; attempt++ {
		p.logger.InfoContext(ctx, "retrying not-modified checkpoints",
			"attempt", attempt,
			"max_attempts", MaxNotModifiedRetries,
			"pending", countResult(outcomes, types.PollResultNotModified),
		)
		if err := p.sleep(ctx, NotModifiedRetryDelay); err != nil {
			return
		}

		remaining := false
		for i, t := range targets {
			if outcomes[i].status.LastPollResult != types.PollResultNotModified {
				continue
			}
			o := p.pollCheckpoint(ctx, t, pre[i])
			switch o.status.LastPollResult {
			case types.PollResultNewData:
				outcomes[i] = o
			case types.PollResultNotModified:
				remaining = true
			default:
				outcomes[i].status.LastPollResult = o.status.LastPollResult
			}
		}
		p.publishStatuses(outcomes)

		if !remaining {
			p.logger.InfoContext(ctx, "all checkpoints received new data", "attempt", attempt)
			return
		}
	}
}

func (p *Poller) finalize(ctx context.Context, ids []string, outcomes []outcome, start time.Time) time.Duration {
	now := p.clock.Now()

	earliest, err := p.store.GetEarliestExpiry(ctx, ids)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to query earliest expiry", "error", err)
		earliest = nil
	}
	if earliest == nil {
		fallback := now.Add(MaxSleep)
		earliest = &fallback
	}

	next := earliest.Add(ExpiryBuffer)
	wait := clampDuration(next.Sub(now).Truncate(time.Second), MinSleep, MaxSleep)
	durationMs := now.Sub(start).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	p.state.update(func(s *types.PollerState) {
		wake := now.Add(wait)
		s.Checkpoints = statuses(outcomes)
		s.NextWakeupAt = &wake
		s.LastPollCompletedAt = &now
		s.LastPollDurationMs = &durationMs
		s.TotalPolls++
	})

	p.logger.InfoContext(ctx, "poll cycle complete",
		"duration_ms", durationMs,
		"sleep", wait,
		"earliest_expiry", *earliest,
		"checkpoints", len(outcomes),
	)
	return wait
}

// emit feeds the optional side channels. Their failures are logged only.
func (p *Poller) emit(ctx context.Context, start time.Time, targets []target, outcomes []outcome) {
	if p.metrics != nil {
		summary := types.CycleSummary{
			StartedAt:   start,
			Duration:    p.clock.Now().Sub(start),
			Checkpoints: len(outcomes),
			NewData:     countResult(outcomes, types.PollResultNewData),
			NotModified: countResult(outcomes, types.PollResultNotModified),
		}
		for _, o := range outcomes {
			if strings.HasPrefix(o.status.LastPollResult, types.PollResultErrorPrefix) {
				summary.Errors++
			}
			summary.Extracted += o.status.ExtractionCount
		}
		if err := p.metrics.RecordCycle(ctx, summary); err != nil {
			p.logger.WarnContext(ctx, "failed to record cycle metrics", "error", err)
		}
	}

	if p.notifier == nil && p.archiver == nil {
		return
	}
	for i, o := range outcomes {
		if o.status.LastPollResult != types.PollResultNewData || o.status.LastFetchedAt == nil {
			continue
		}
		fetchedAt := *o.status.LastFetchedAt
		t := targets[i]

		if p.archiver != nil {
			if err := p.archiver.Archive(ctx, t.checkpoint.ID, fetchedAt, o.payload); err != nil {
				p.logger.WarnContext(ctx, "failed to archive payload",
					"checkpoint_id", t.checkpoint.ID,
					"error", err,
				)
			}
		}
		if p.notifier != nil {
			update := types.ForecastUpdate{
				CheckpointID:    t.checkpoint.ID,
				CheckpointName:  t.checkpoint.Name,
				RaceID:          t.race.ID,
				RaceName:        t.race.Name,
				FetchedAt:       fetchedAt,
				ModelRunAt:      o.status.LastModelRunAt,
				ExtractionCount: o.status.ExtractionCount,
			}
			if err := p.notifier.NotifyUpdated(ctx, update); err != nil {
				p.logger.WarnContext(ctx, "failed to publish forecast update",
					"checkpoint_id", t.checkpoint.ID,
					"error", err,
				)
			}
		}
	}
}

func (p *Poller) publishStatuses(outcomes []outcome) {
	st := statuses(outcomes)
	p.state.update(func(s *types.PollerState) {
		s.Checkpoints = st
	})
}

func statuses(outcomes []outcome) []types.CheckpointPollStatus {
	out := make([]types.CheckpointPollStatus, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.status
	}
	return out
}

func countResult(outcomes []outcome, result string) int {
	n := 0
	for _, o := range outcomes {
		if o.status.LastPollResult == result {
			n++
		}
	}
	return n
}

// modelRunOf reads meta.updated_at from a payload, or nil.
func modelRunOf(raw []byte) *time.Time {
	doc, err := forecasts.ParseDocument(raw)
	if err != nil {
		return nil
	}
	run, err := doc.ModelRunAt()
	if err != nil {
		return nil
	}
	return run
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
