// Package metrics records dashboard request telemetry in CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric and dimension names.
const (
	MetricRequestCount   = "RequestCount"
	MetricRequestLatency = "RequestLatency"

	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"
)

// maxDatumsPerCall is the CloudWatch PutMetricData limit.
const maxDatumsPerCall = 1000

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchCollector buffers request metrics in memory and ships them in
// batches, so recording never blocks a request on a network call.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

func NewCloudWatchCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{client: client, namespace: namespace, logger: logger}
}

// RecordRequest buffers a count and a latency datum for one request.
func (c *CloudWatchCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimMethod), Value: aws.String(method)},
		{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(DimStatus), Value: aws.String(status)},
	}
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending,
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(now),
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricRequestLatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Timestamp:  aws.Time(now),
			Dimensions: dims[:2],
		},
	)
}

// Flush sends everything buffered so far. Datums from a failed batch are
// dropped and logged; metrics are best-effort.
func (c *CloudWatchCollector) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for start := 0; start < len(batch); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(batch))
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to publish request metrics",
				"error", err.Error(),
				"datums", end-start,
			)
		}
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (c *CloudWatchCollector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Flush(final)
			cancel()
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

// NopCollector discards metrics.
type NopCollector struct{}

func (NopCollector) RecordRequest(_, _, _ string, _ time.Duration) {}
