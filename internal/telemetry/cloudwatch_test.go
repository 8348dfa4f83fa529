package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbingo/internal/types"
)

type mockCloudWatch struct {
	mu    sync.Mutex
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func datum(t *testing.T, in *cloudwatch.PutMetricDataInput, name, result string) cwtypes.MetricDatum {
	t.Helper()
	for _, d := range in.MetricData {
		if aws.ToString(d.MetricName) != name {
			continue
		}
		if result == "" {
			return d
		}
		for _, dim := range d.Dimensions {
			if aws.ToString(dim.Name) == types.DimPollResult && aws.ToString(dim.Value) == result {
				return d
			}
		}
	}
	t.Fatalf("metric %s (%s) not found", name, result)
	return cwtypes.MetricDatum{}
}

func TestRecordCycle(t *testing.T) {
	cw := &mockCloudWatch{}
	e := NewEmitter(cw, "", nil)
	started := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)

	err := e.RecordCycle(context.Background(), types.CycleSummary{
		StartedAt:   started,
		Duration:    1500 * time.Millisecond,
		Checkpoints: 10,
		NewData:     7,
		NotModified: 2,
		Errors:      1,
		Extracted:   35,
	})
	require.NoError(t, err)
	require.Len(t, cw.calls, 1)

	in := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(in.Namespace))
	assert.Equal(t, 1500.0, aws.ToFloat64(datum(t, in, types.MetricPollCycleDuration, "").Value))
	assert.Equal(t, 35.0, aws.ToFloat64(datum(t, in, types.MetricForecastsExtracted, "").Value))
	assert.Equal(t, 7.0, aws.ToFloat64(datum(t, in, types.MetricPollCheckpoints, types.PollResultNewData).Value))
	assert.Equal(t, 2.0, aws.ToFloat64(datum(t, in, types.MetricPollCheckpoints, types.PollResultNotModified).Value))
	assert.Equal(t, 1.0, aws.ToFloat64(datum(t, in, types.MetricUpstreamFetchFailure, "").Value))
	assert.Equal(t, started, aws.ToTime(in.MetricData[0].Timestamp))
}

func TestRecordCycle_NoFailureMetricWhenClean(t *testing.T) {
	cw := &mockCloudWatch{}
	require.NoError(t, NewEmitter(cw, "Custom", nil).RecordCycle(context.Background(), types.CycleSummary{NewData: 3}))

	in := cw.calls[0]
	assert.Equal(t, "Custom", aws.ToString(in.Namespace))
	for _, d := range in.MetricData {
		assert.NotEqual(t, types.MetricUpstreamFetchFailure, aws.ToString(d.MetricName))
	}
}

func TestRecordCycle_Error(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	err := NewEmitter(cw, "", nil).RecordCycle(context.Background(), types.CycleSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestRecordRequest(t *testing.T) {
	cw := &mockCloudWatch{}
	e := NewEmitter(cw, "", nil)

	e.RecordRequest("GET", "/api/v1/races", 200, 42*time.Millisecond)
	e.Close()

	require.Len(t, cw.calls, 1)
	in := cw.calls[0]
	require.Len(t, in.MetricData, 2)
	assert.Equal(t, types.MetricAPILatency, aws.ToString(in.MetricData[0].MetricName))
	assert.Equal(t, 42.0, aws.ToFloat64(in.MetricData[0].Value))
	assert.Equal(t, types.MetricAPIRequestCount, aws.ToString(in.MetricData[1].MetricName))

	dims := map[string]string{}
	for _, d := range in.MetricData[0].Dimensions {
		dims[aws.ToString(d.Name)] = aws.ToString(d.Value)
	}
	assert.Equal(t, map[string]string{
		types.DimEndpoint: "/api/v1/races",
		types.DimMethod:   "GET",
		types.DimStatus:   "200",
	}, dims)
}

func TestRecordRequest_ErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("denied")}
	e := NewEmitter(cw, "", nil)
	e.RecordRequest("GET", "/api/v1/health", 503, time.Millisecond)
	e.Close()
	assert.Len(t, cw.calls, 1)
}
