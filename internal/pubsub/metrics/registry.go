package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for handler invocations.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeConfigError = "config_error"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Publisher metrics
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	publishBatchSize *prometheus.HistogramVec

	// Dispatch metrics
	messagesReceived *prometheus.CounterVec
	handlerTotal     *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	inflight         *prometheus.GaugeVec
	ackTotal         *prometheus.CounterVec

	// Stream metrics
	activeStreams *prometheus.GaugeVec
	streamStops   *prometheus.CounterVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsub_publisher_publish_total",
				Help: "Total number of publish operations",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubsub_publisher_publish_duration_seconds",
				Help:    "Time spent publishing messages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		publishBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubsub_publisher_batch_size",
				Help:    "Number of messages in published batches",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"topic"},
		),

		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsub_dispatch_messages_received_total",
				Help: "Total number of messages delivered by the broker",
			},
			[]string{"subscription"},
		),

		handlerTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsub_dispatch_handler_total",
				Help: "Total number of handler invocations",
			},
			[]string{"subscription", "kind", "outcome"}, // outcome: success, failure, config_error
		),

		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubsub_dispatch_handler_duration_seconds",
				Help:    "Time spent in handler invocations including session commit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"subscription", "kind"},
		),

		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubsub_dispatch_inflight_messages",
				Help: "Number of messages currently being handled",
			},
			[]string{"subscription"},
		),

		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsub_dispatch_ack_total",
				Help: "Total number of acknowledgment decisions",
			},
			[]string{"subscription", "mode", "decision", "status"}, // decision: ack, nack
		),

		activeStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubsub_stream_active",
				Help: "Whether a subscription stream is listening (1) or not (0)",
			},
			[]string{"subscription"},
		),

		streamStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsub_stream_stops_total",
				Help: "Total number of subscription stream stops",
			},
			[]string{"subscription", "reason"}, // reason: cancelled, error
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubsub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pubsub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publishBatchSize,
		r.messagesReceived,
		r.handlerTotal,
		r.handlerDuration,
		r.inflight,
		r.ackTotal,
		r.activeStreams,
		r.streamStops,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordPublish records a single publish operation
func (r *Registry) RecordPublish(topic string, duration time.Duration, err error) {
	r.publishTotal.WithLabelValues(topic, status(err)).Inc()
	r.publishDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordPublishBatch records the size of a published batch
func (r *Registry) RecordPublishBatch(topic string, batchSize int) {
	r.publishBatchSize.WithLabelValues(topic).Observe(float64(batchSize))
}

// RecordMessageReceived records a delivery from the broker
func (r *Registry) RecordMessageReceived(subscription string) {
	r.messagesReceived.WithLabelValues(subscription).Inc()
}

// HandlerStarted marks a message as in flight
func (r *Registry) HandlerStarted(subscription string) {
	r.inflight.WithLabelValues(subscription).Inc()
}

// RecordHandler records a finished handler invocation
func (r *Registry) RecordHandler(subscription, kind, outcome string, duration time.Duration) {
	r.inflight.WithLabelValues(subscription).Dec()
	r.handlerTotal.WithLabelValues(subscription, kind, outcome).Inc()
	r.handlerDuration.WithLabelValues(subscription, kind).Observe(duration.Seconds())
}

// RecordAck records an acknowledgment decision sent to the broker
func (r *Registry) RecordAck(subscription, mode, decision string, err error) {
	r.ackTotal.WithLabelValues(subscription, mode, decision, status(err)).Inc()
}

// SetStreamActive flags a subscription stream as listening or not
func (r *Registry) SetStreamActive(subscription string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	r.activeStreams.WithLabelValues(subscription).Set(v)
}

// RecordStreamStop records why a subscription stream stopped
func (r *Registry) RecordStreamStop(subscription, reason string) {
	r.streamStops.WithLabelValues(subscription, reason).Inc()
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
