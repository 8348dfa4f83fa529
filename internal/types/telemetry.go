package types

// CloudWatch metric names, dimension keys and the default namespace.
const (
	MetricAPILatency           = "APILatency"
	MetricAPIRequestCount      = "APIRequestCount"
	MetricPollCycleDuration    = "PollCycleDuration"
	MetricPollCheckpoints      = "PollCheckpoints"
	MetricForecastsExtracted   = "ForecastsExtracted"
	MetricUpstreamFetchFailure = "UpstreamFetchFailure"

	DimEndpoint   = "Endpoint"
	DimMethod     = "Method"
	DimStatus     = "Status"
	DimPollResult = "PollResult"

	MetricNamespace = "WeatherBingo"
)
