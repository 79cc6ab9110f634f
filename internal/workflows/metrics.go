package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/mirroragent/internal/workflows"

var (
	activityDuration     metric.Float64Histogram
	activityFailureCount metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for provisioning activities.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	activityDuration, err = meter.Float64Histogram(
		"mirror.workflows.activity.duration",
		metric.WithDescription("Duration of provisioning activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityFailureCount, err = meter.Int64Counter(
		"mirror.workflows.activity.step_failures",
		metric.WithDescription("Provisioning steps that finished with a warning or error"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity failure counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordActivity(ctx context.Context, name string, d time.Duration, failed bool) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, d.Seconds(), attrs)
	if failed {
		activityFailureCount.Add(ctx, 1, attrs)
	}
}
