package external

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"weatherbingo/internal/types"
)

// Yr Locationforecast defaults.
const (
	DefaultYrBaseURL   = "https://api.met.no"
	DefaultYrUserAgent = "WeatherBingo/0.1 github.com/LC-Zurich-Doppelstock/weather-bingo"
	DefaultYrTimeout   = 30 * time.Second

	yrForecastPath = "/weatherapi/locationforecast/2.0/complete"
)

// maxYrBodyBytes bounds how much of a single payload is read. A complete
// 10-day timeseries is well under 1 MiB.
const maxYrBodyBytes = 16 << 20

// FetchStatus distinguishes a new payload from a successful revalidation.
type FetchStatus int

const (
	// FetchFresh means a 200 with a new body.
	FetchFresh FetchStatus = iota
	// FetchNotModified means a 304; the caller's stored payload is still current.
	FetchNotModified
)

func (s FetchStatus) String() string {
	if s == FetchNotModified {
		return "not_modified"
	}
	return "fresh"
}

// YrResponse is the outcome of a conditional timeseries request. Body is only
// set for FetchFresh.
type YrResponse struct {
	Status       FetchStatus
	Body         []byte
	ExpiresAt    *time.Time
	LastModified *string
}

// YrClientConfig configures a YrClient.
type YrClientConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// YrClient fetches location timeseries from MET Norway. Requests go through
// BaseClient so yr.no outages trip the breaker instead of piling up.
type YrClient struct {
	base    *BaseClient
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewYrClient creates a YrClient. Zero config fields fall back to the
// package defaults.
func NewYrClient(cfg YrClientConfig, opts ...BaseClientOption) *YrClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultYrBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultYrUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultYrTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]BaseClientOption{WithLogger(logger)}, opts...)
	base := NewBaseClient(
		&http.Client{Timeout: cfg.Timeout},
		"yr",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    time.Second,
			MaxWait:    2 * time.Second,
		},
		cfg.UserAgent,
		opts...,
	)

	return &YrClient{
		base:    base,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// FetchTimeseries requests the complete forecast for a location. When
// ifModifiedSince is set it is sent as If-Modified-Since so an unchanged
// forecast comes back as FetchNotModified without a body.
//
// The configured timeout covers the whole call, retries included.
func (c *YrClient) FetchTimeseries(
	ctx context.Context,
	lat, lon, elevation float64,
	ifModifiedSince *string,
) (*YrResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s%s?lat=%.4f&lon=%.4f&altitude=%.0f", c.baseURL, yrForecastPath, lat, lon, elevation)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build yr request", err)
	}
	if ifModifiedSince != nil && *ifModifiedSince != "" {
		req.Header.Set("If-Modified-Since", *ifModifiedSince)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &YrResponse{
		ExpiresAt:    parseExpires(resp.Header.Get("Expires")),
		LastModified: headerPtr(resp.Header.Get("Last-Modified")),
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		out.Status = FetchNotModified
		c.logger.DebugContext(ctx, "yr forecast not modified", "lat", lat, "lon", lon)
		return out, nil
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxYrBodyBytes))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to read yr response body", err)
		}
		out.Status = FetchFresh
		out.Body = body
		return out, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("yr returned unexpected status %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode, "body": string(snippet)},
		)
	}
}

func parseExpires(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func headerPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
