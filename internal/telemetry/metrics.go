// Package telemetry implements the MetricsCollector interface over CloudWatch,
// with a no-op collector for environments where metrics are disabled.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"climascope/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability. Production code uses the *cloudwatch.Client from aws-sdk-go-v2.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchCollector publishes metrics to CloudWatch under the service
// namespace. Publish failures are logged, never propagated: telemetry must
// not affect request or pipeline outcomes.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ types.MetricsCollector = (*CloudWatchCollector)(nil)

// NewCloudWatchCollector creates a collector publishing to the service
// namespace.
func NewCloudWatchCollector(client CloudWatchClient, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// Count increments a counter metric by one with the given dimensions.
func (c *CloudWatchCollector) Count(ctx context.Context, metric string, dims map[string]string) {
	c.put(ctx, metric, 1, cwtypes.StandardUnitCount, dims)
}

// Duration records a latency metric in milliseconds.
func (c *CloudWatchCollector) Duration(ctx context.Context, metric string, d time.Duration, dims map[string]string) {
	c.put(ctx, metric, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims)
}

func (c *CloudWatchCollector) put(ctx context.Context, metric string, value float64, unit cwtypes.StandardUnit, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(metric),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: toDimensions(dims),
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}

	if _, err := c.client.PutMetricData(ctx, input); err != nil {
		c.logger.Warn("failed to publish metric",
			slog.String("metric", metric),
			slog.String("error", err.Error()),
		)
	}
}

func toDimensions(dims map[string]string) []cwtypes.Dimension {
	if len(dims) == 0 {
		return nil
	}
	out := make([]cwtypes.Dimension, 0, len(dims))
	for name, value := range dims {
		out = append(out, cwtypes.Dimension{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}
	return out
}

// NoopCollector discards all metrics. Used when CloudWatch publishing is
// disabled (local development, tests).
type NoopCollector struct{}

var _ types.MetricsCollector = NoopCollector{}

func (NoopCollector) Count(context.Context, string, map[string]string)                  {}
func (NoopCollector) Duration(context.Context, string, time.Duration, map[string]string) {}
