// Package telemetry emits service metrics to CloudWatch: one batch per poller
// cycle and one pair of datums per API request.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"weatherbingo/internal/types"
)

// requestPutTimeout bounds the detached PutMetricData call made per request.
const requestPutTimeout = 5 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Emitter publishes poller and API metrics under one namespace.
type Emitter struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	inflight sync.WaitGroup
}

// NewEmitter creates an Emitter. An empty namespace uses types.MetricNamespace.
func NewEmitter(client CloudWatchClient, namespace string, logger *slog.Logger) *Emitter {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{client: client, namespace: namespace, logger: logger}
}

// RecordCycle emits the cycle duration, the checkpoint count per poll result
// and the number of extracted forecasts.
func (e *Emitter) RecordCycle(ctx context.Context, s types.CycleSummary) error {
	ts := aws.Time(s.StartedAt)
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricPollCycleDuration),
			Value:      aws.Float64(float64(s.Duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Timestamp:  ts,
		},
		{
			MetricName: aws.String(types.MetricForecastsExtracted),
			Value:      aws.Float64(float64(s.Extracted)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  ts,
		},
	}
	for _, c := range []struct {
		result string
		n      int
	}{
		{types.PollResultNewData, s.NewData},
		{types.PollResultNotModified, s.NotModified},
		{"error", s.Errors},
	} {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricPollCheckpoints),
			Value:      aws.Float64(float64(c.n)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  ts,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(types.DimPollResult), Value: aws.String(c.result)},
			},
		})
	}
	if s.Errors > 0 {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricUpstreamFetchFailure),
			Value:      aws.Float64(float64(s.Errors)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  ts,
		})
	}

	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(e.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("telemetry: put cycle metrics: %w", err)
	}
	return nil
}

// RecordRequest emits request latency and count. The call is detached from
// the request so a slow CloudWatch endpoint never delays a response; Close
// waits for outstanding calls.
func (e *Emitter) RecordRequest(method, endpoint string, status int, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimStatus), Value: aws.String(strconv.Itoa(status))},
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(e.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(types.MetricAPIRequestCount),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), requestPutTimeout)
		defer cancel()
		if _, err := e.client.PutMetricData(ctx, input); err != nil {
			e.logger.Error("failed to record request metric",
				"error", err,
				"endpoint", endpoint,
				"status", status,
			)
		}
	}()
}

// Close waits for in-flight request metrics to finish.
func (e *Emitter) Close() {
	e.inflight.Wait()
}
