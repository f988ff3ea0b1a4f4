package core

import "context"

// Metric names reported outside the per-operation series.
const (
	MetricWebhookDispatchTotal    = "wxopen.webhook.dispatch.total"
	MetricWebhookDispatchDuration = "wxopen.webhook.dispatch.duration_ms"
	MetricJobEventsTotal          = "wxopen.job.events.total"
	MetricJobDuration             = "wxopen.job.duration_ms"
)

// OperationMetrics returns the counter and histogram names for an agent
// operation such as "fetch_component_token".
func OperationMetrics(operation string) (total string, duration string) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	return "wxopen." + operation + ".total", "wxopen." + operation + ".duration_ms"
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
