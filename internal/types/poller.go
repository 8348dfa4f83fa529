package types

import "time"

// Poll outcome labels reported per checkpoint.
const (
	PollResultNewData     = "new_data"
	PollResultNotModified = "not_modified"
	PollResultErrorPrefix = "error: "
)

// CheckpointPollStatus is the last poll outcome recorded for one checkpoint.
type CheckpointPollStatus struct {
	CheckpointID    string     `json:"checkpoint_id"`
	CheckpointName  string     `json:"checkpoint_name"`
	RaceName        string     `json:"race_name"`
	DistanceKm      float64    `json:"distance_km"`
	ExpiresAt       *time.Time `json:"expires_at"`
	LastFetchedAt   *time.Time `json:"last_fetched_at"`
	LastModelRunAt  *time.Time `json:"last_model_run_at"`
	LastPollResult  string     `json:"last_poll_result"`
	ExtractionCount int        `json:"extraction_count"`
}

// PollerState is an immutable snapshot of the background poller, published
// after each pass of a cycle and served read-only by the status endpoint.
type PollerState struct {
	Active              bool                   `json:"active"`
	NextWakeupAt        *time.Time             `json:"next_wakeup_at"`
	LastPollCompletedAt *time.Time             `json:"last_poll_completed_at"`
	LastPollDurationMs  *int64                 `json:"last_poll_duration_ms"`
	TotalPolls          uint64                 `json:"total_polls"`
	Checkpoints         []CheckpointPollStatus `json:"checkpoints"`
}

// Clone returns a deep copy so callers can never mutate a published snapshot.
func (s PollerState) Clone() PollerState {
	out := s
	out.NextWakeupAt = cloneTime(s.NextWakeupAt)
	out.LastPollCompletedAt = cloneTime(s.LastPollCompletedAt)
	if s.LastPollDurationMs != nil {
		d := *s.LastPollDurationMs
		out.LastPollDurationMs = &d
	}
	out.Checkpoints = make([]CheckpointPollStatus, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		cp.ExpiresAt = cloneTime(cp.ExpiresAt)
		cp.LastFetchedAt = cloneTime(cp.LastFetchedAt)
		cp.LastModelRunAt = cloneTime(cp.LastModelRunAt)
		out.Checkpoints[i] = cp
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CycleSummary describes one completed poller cycle for metrics.
type CycleSummary struct {
	StartedAt   time.Time
	Duration    time.Duration
	Checkpoints int
	NewData     int
	NotModified int
	Errors      int
	Extracted   int
}

// ForecastUpdate announces that a checkpoint received a new upstream
// payload and its forecasts were re-extracted.
type ForecastUpdate struct {
	CheckpointID    string     `json:"checkpoint_id"`
	CheckpointName  string     `json:"checkpoint_name"`
	RaceID          string     `json:"race_id"`
	RaceName        string     `json:"race_name"`
	FetchedAt       time.Time  `json:"fetched_at"`
	ModelRunAt      *time.Time `json:"yr_model_run_at"`
	ExtractionCount int        `json:"extraction_count"`
}
