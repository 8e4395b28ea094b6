package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cfdfeed/logger"
)

func captureCloudWatch(t *testing.T, interval time.Duration) *[][]cwtypes.MetricDatum {
	t.Helper()
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}, namespace: "Test"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = interval
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })
	t.Cleanup(func() { timeNow = time.Now })
	return &batches
}

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	batches := captureCloudWatch(t, 50*time.Millisecond)

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }

	metric := Metric{Component: "stream", Name: "reconnects", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(25 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.MetricName == nil || *datum.MetricName != "reconnects" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	batches := captureCloudWatch(t, 50*time.Millisecond)

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }

	metric := Metric{Component: "stream", Name: "reconnects", Timestamp: baseTime}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(75 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
	if v := (*batches)[1][0].Value; v == nil || *v != 2 {
		t.Fatalf("unexpected metric value: %v", v)
	}
}

func TestPublishMetricDatumDimensions(t *testing.T) {
	batches := captureCloudWatch(t, time.Second)

	metric := Metric{
		Component: "stream",
		Name:      "frames_dropped",
		Timestamp: time.Now(),
		Fields:    logger.Fields{"reason": "malformed", "unit": "count", "attempt": 3},
	}
	publishMetricDatum(metric, 1)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	dims := (*batches)[0][0].Dimensions
	got := map[string]string{}
	for _, d := range dims {
		got[*d.Name] = *d.Value
	}
	if got["component"] != "stream" || got["reason"] != "malformed" {
		t.Fatalf("unexpected dimensions: %v", got)
	}
	if _, ok := got["unit"]; ok {
		t.Fatalf("unit should not be a dimension: %v", got)
	}
	if _, ok := got["attempt"]; ok {
		t.Fatalf("non-string fields should not be dimensions: %v", got)
	}
}

func TestPublishSkippedWithoutClient(t *testing.T) {
	batches := captureCloudWatch(t, time.Second)
	cwState.Store(&cloudWatchState{namespace: "Test"})

	publishMetricDatum(Metric{Component: "stream", Name: "connected"}, 1)
	if len(*batches) != 0 {
		t.Fatalf("expected no publish without a client")
	}
}

func TestToFloat64(t *testing.T) {
	if v, ok := toFloat64(int64(4)); !ok || v != 4 {
		t.Fatalf("int64 not converted: %v %v", v, ok)
	}
	if _, ok := toFloat64("4"); ok {
		t.Fatalf("strings should not convert")
	}
}
