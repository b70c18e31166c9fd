package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	eventsCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logship",
			Name:      "events_captured_total",
			Help:      "Number of captured events by kind.",
		}, []string{"kind"},
	)
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logship",
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by path (immediate or retry) and result.",
		}, []string{"path", "result"},
	)
	queueEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "logship",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Payloads stored in the delivery queue.",
		},
	)
	queueOverflow = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "logship",
			Subsystem: "queue",
			Name:      "overflow_total",
			Help:      "Payloads dropped because the delivery queue was full.",
		},
	)
	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logship",
			Subsystem: "queue",
			Name:      "length",
			Help:      "Current number of queued payloads.",
		},
	)
	retryArmed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logship",
			Subsystem: "retry",
			Name:      "armed",
			Help:      "1 while the retry ticker is armed, 0 when idle.",
		},
	)
	memoryDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "logship",
			Subsystem: "memory",
			Name:      "dropped_total",
			Help:      "Events not kept because the memory buffer was full.",
		},
	)
	collectorReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logship",
			Subsystem: "collector",
			Name:      "received_total",
			Help:      "Payloads received by the collector by result.",
		}, []string{"result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		eventsCaptured, deliveryAttempts, queueEnqueued, queueOverflow,
		queueLength, retryArmed, memoryDropped, collectorReceived,
		execCPUPercent, execMemoryBytes, execNumThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCaptured(kind string) {
	if regOK.Load() {
		eventsCaptured.WithLabelValues(kind).Inc()
	}
}

// ObserveDelivery records one delivery attempt. path is "immediate" or
// "retry".
func ObserveDelivery(path string, ok bool) {
	if regOK.Load() {
		result := "success"
		if !ok {
			result = "failure"
		}
		deliveryAttempts.WithLabelValues(path, result).Inc()
	}
}

func IncEnqueued() {
	if regOK.Load() {
		queueEnqueued.Inc()
	}
}

func IncOverflow() {
	if regOK.Load() {
		queueOverflow.Inc()
	}
}

func SetQueueLength(n int) {
	if regOK.Load() {
		queueLength.Set(float64(n))
	}
}

func SetRetryArmed(armed bool) {
	if regOK.Load() {
		var v float64
		if armed {
			v = 1
		}
		retryArmed.Set(v)
	}
}

func IncMemoryDropped() {
	if regOK.Load() {
		memoryDropped.Inc()
	}
}

func IncCollectorReceived(result string) {
	if regOK.Load() {
		collectorReceived.WithLabelValues(result).Inc()
	}
}
