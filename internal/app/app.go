// Package app builds the object graph shared by the API server and the
// standalone data poller: database pool, upstream client, cache, resolver,
// poller and the optional AWS side-channels.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"weatherbingo/internal/archive"
	"weatherbingo/internal/config"
	"weatherbingo/internal/db"
	"weatherbingo/internal/external"
	"weatherbingo/internal/forecasts"
	"weatherbingo/internal/queue"
	"weatherbingo/internal/scheduler"
	"weatherbingo/internal/telemetry"
	"weatherbingo/internal/types"
)

// Services is the wired application.
type Services struct {
	Pool     *pgxpool.Pool
	Store    *db.Store
	Cache    *forecasts.TimeseriesCache
	Resolver *forecasts.Resolver
	State    *scheduler.StateStore
	Poller   *scheduler.Poller

	// Metrics is nil unless ENABLE_METRICS is set.
	Metrics *telemetry.Emitter

	logger *slog.Logger
}

// SideChannels holds the optional AWS components. Each field is nil when
// its configuration is empty.
type SideChannels struct {
	Metrics  *telemetry.Emitter
	Notifier *queue.UpdateNotifier
	Archive  *archive.PayloadArchive
}

// New connects to the database and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	side, err := NewSideChannels(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return Wire(cfg, pool, pool, side, logger), nil
}

// Wire assembles the services over an existing connection. pool may be nil
// in tests; conn is what the repositories use.
func Wire(cfg *config.Config, pool *pgxpool.Pool, conn db.DBTX, side SideChannels, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	clock := types.RealClock{}

	store := db.NewStore(conn, logger)
	yr := external.NewYrClient(external.YrClientConfig{
		BaseURL:   cfg.Yr.BaseURL,
		UserAgent: cfg.Yr.UserAgent,
		Timeout:   cfg.Yr.Timeout,
		Logger:    logger,
	})
	cache := forecasts.NewTimeseriesCache(store, yr, clock, logger)
	extractor := forecasts.NewExtractor(logger)
	resolver := forecasts.NewResolver(cache, store, extractor, clock, logger)
	state := scheduler.NewStateStore()

	pc := scheduler.PollerConfig{
		Store:     store,
		Cache:     cache,
		Extractor: extractor,
		State:     state,
		Clock:     clock,
		Logger:    logger,
	}
	// Typed nils must not reach the poller's optional interfaces.
	if side.Metrics != nil {
		pc.Metrics = side.Metrics
	}
	if side.Notifier != nil {
		pc.Notifier = side.Notifier
	}
	if side.Archive != nil {
		pc.Archiver = side.Archive
	}

	return &Services{
		Pool:     pool,
		Store:    store,
		Cache:    cache,
		Resolver: resolver,
		State:    state,
		Poller:   scheduler.NewPoller(pc),
		Metrics:  side.Metrics,
		logger:   logger,
	}
}

// NewSideChannels builds the AWS clients for every configured side-channel.
// With nothing configured no AWS configuration is loaded at all.
func NewSideChannels(ctx context.Context, cfg *config.Config, logger *slog.Logger) (SideChannels, error) {
	var side SideChannels
	wantMetrics := cfg.Observability.EnableMetrics
	wantQueue := cfg.AWS.ForecastEventsQueueURL != ""
	wantArchive := cfg.AWS.ArchiveBucket != ""
	if !wantMetrics && !wantQueue && !wantArchive {
		return side, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return side, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	endpoint := cfg.AWS.EndpointURL

	if wantMetrics {
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		side.Metrics = telemetry.NewEmitter(client, cfg.Observability.MetricNamespace, logger)
	}
	if wantQueue {
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		side.Notifier = queue.NewUpdateNotifier(client, cfg.AWS.ForecastEventsQueueURL, logger)
	}
	if wantArchive {
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
		side.Archive = archive.NewPayloadArchive(client, cfg.AWS.ArchiveBucket, logger)
	}

	logger.Info("side-channels configured",
		"metrics", wantMetrics,
		"forecast_events_queue", wantQueue,
		"archive_bucket", cfg.AWS.ArchiveBucket,
	)
	return side, nil
}

// Close flushes pending metrics and closes the pool.
func (s *Services) Close() {
	if s.Metrics != nil {
		s.Metrics.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	s.logger.Info("services closed")
}
