// Registers:
//
//	#cfdfeed_frames_total{disposition}
//	#cfdfeed_reconnects_total
//	#cfdfeed_connected
//	#cfdfeed_trades_buffered
//	#cfdfeed_api_requests_total{endpoint,status}
//	#go_* and process_* system metrics
//
// Handler exposes them for the dashboard's /metrics route.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cfdfeed/config"
	"cfdfeed/logger"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	framesTotal    *prometheus.CounterVec
	reconnects     prometheus.Counter
	connected      prometheus.Gauge
	tradesBuffered prometheus.Gauge
	apiRequests    *prometheus.CounterVec
)

// Init registers the collectors once. Recording helpers are no-ops before it
// runs.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		framesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfdfeed_frames_total",
				Help: "Inbound stream frames by routing outcome",
			},
			[]string{"disposition"},
		)
		reconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfdfeed_reconnects_total",
			Help: "Reconnect attempts scheduled after a close or failed dial",
		})
		connected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cfdfeed_connected",
			Help: "1 while the upstream socket is open",
		})
		tradesBuffered = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cfdfeed_trades_buffered",
			Help: "Trades currently held in the recent-trades buffer",
		})
		apiRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfdfeed_api_requests_total",
				Help: "REST backend requests by endpoint and status code",
			},
			[]string{"endpoint", "status"},
		)

		registry.MustRegister(framesTotal, reconnects, connected, tradesBuffered, apiRequests)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Configure turns on the exporters selected in cfg.
func Configure(cfg config.MetricsConfig) {
	if cfg.Prometheus {
		Init()
	}
	if cfg.CloudWatch.Enabled {
		InitCloudWatch(cfg.CloudWatch.Region, cfg.CloudWatch.Namespace)
	}
}

// Handler serves the registry in the Prometheus text format. It returns 404
// until Init has run.
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordFrame counts one inbound frame.
func RecordFrame(disposition string) {
	if framesTotal != nil {
		framesTotal.WithLabelValues(disposition).Inc()
	}
}

// RecordReconnect counts a scheduled reconnect and emits it to the metric
// handlers. The endpoint is left to the caller's log line.
func RecordReconnect(log *logger.Log) {
	if reconnects != nil {
		reconnects.Inc()
	}
	EmitMetric(log, "stream", "reconnects", 1, Counter, nil)
}

// SetConnected updates the connection gauge.
func SetConnected(log *logger.Log, up bool) {
	value := 0
	if up {
		value = 1
	}
	if connected != nil {
		connected.Set(float64(value))
	}
	EmitMetric(log, "stream", "connected", value, Gauge, nil)
}

// SetTradesBuffered records how many trades the buffer currently holds.
func SetTradesBuffered(n int) {
	if tradesBuffered != nil {
		tradesBuffered.Set(float64(n))
	}
}

// RecordAPIRequest counts one REST call. status is 0 when no response arrived.
func RecordAPIRequest(endpoint string, status int) {
	if apiRequests != nil {
		apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
}
