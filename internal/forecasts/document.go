package forecasts

import (
	"encoding/json"
	"time"

	"weatherbingo/internal/types"
)

// Document is the typed form of a Locationforecast 2.0 "complete" response.
// It is decoded once per payload and treated as read-only afterwards; every
// extraction over the same payload reuses it.
type Document struct {
	Properties struct {
		Meta struct {
			UpdatedAt string `json:"updated_at"`
		} `json:"meta"`
		Timeseries []TimeseriesEntry `json:"timeseries"`
	} `json:"properties"`
}

// TimeseriesEntry is one timestamped forecast step.
type TimeseriesEntry struct {
	Time string `json:"time"`
	Data struct {
		Instant struct {
			Details map[string]any `json:"details"`
		} `json:"instant"`
		Next1Hours *PeriodBlock `json:"next_1_hours"`
		Next6Hours *PeriodBlock `json:"next_6_hours"`
	} `json:"data"`
}

// PeriodBlock summarizes the period following an entry. Short-range entries
// carry a 1-hour block; further out only a 6-hour block is present.
type PeriodBlock struct {
	Summary struct {
		SymbolCode string `json:"symbol_code"`
	} `json:"summary"`
	Details map[string]any `json:"details"`
}

// ParseDocument decodes a raw upstream payload. A payload that is not valid
// JSON is reported as an invalid upstream forecast.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamForecastInvalid,
			"upstream forecast payload is not valid JSON",
			err,
		)
	}
	return &doc, nil
}

// ModelRunAt returns meta.updated_at in UTC, or nil when the payload does
// not carry one.
func (d *Document) ModelRunAt() (*time.Time, error) {
	s := d.Properties.Meta.UpdatedAt
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// number returns a numeric detail value and whether it was present.
func number(details map[string]any, key string) (float64, bool) {
	v, ok := details[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// period returns the finest period block present on the entry.
func (e *TimeseriesEntry) period() *PeriodBlock {
	if e.Data.Next1Hours != nil {
		return e.Data.Next1Hours
	}
	return e.Data.Next6Hours
}
